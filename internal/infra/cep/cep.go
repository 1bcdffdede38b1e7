// Package cep は CEP から住所を引く（ViaCEP -> BrasilAPI の順）。
package cep

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"brickshop/internal/gateway"

	"github.com/sirupsen/logrus"
)

const (
	DefaultViaCEPURL    = "https://viacep.com.br"
	DefaultBrasilAPIURL = "https://brasilapi.com.br"
)

type provider interface {
	name() string
	lookup(ctx context.Context, cep string) (gateway.CEPAddress, error)
}

// Lookup は最初に成功したプロバイダの結果を返す
type Lookup struct {
	providers []provider
	log       logrus.FieldLogger
}

func NewLookup(viaCEPURL, brasilAPIURL string, timeout time.Duration, log logrus.FieldLogger) *Lookup {
	hc := &http.Client{Timeout: timeout}
	return &Lookup{
		providers: []provider{
			&viaCEP{baseURL: strings.TrimRight(viaCEPURL, "/"), hc: hc},
			&brasilAPI{baseURL: strings.TrimRight(brasilAPIURL, "/"), hc: hc},
		},
		log: log,
	}
}

// Normalize は数字8桁にそろえる。形式が違えば空文字。
func Normalize(cep string) string {
	var b strings.Builder
	for _, r := range cep {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() != 8 {
		return ""
	}
	return b.String()
}

func (l *Lookup) Lookup(ctx context.Context, raw string) (gateway.CEPAddress, error) {
	cep := Normalize(raw)
	if cep == "" {
		return gateway.CEPAddress{}, gateway.ErrCEPNotFound
	}

	var lastErr error
	for _, p := range l.providers {
		addr, err := p.lookup(ctx, cep)
		if err == nil {
			return addr, nil
		}
		l.log.WithFields(logrus.Fields{"provider": p.name(), "cep": cep}).WithError(err).Debug("cep lookup failed")
		lastErr = err
	}
	if errors.Is(lastErr, gateway.ErrCEPNotFound) {
		return gateway.CEPAddress{}, gateway.ErrCEPNotFound
	}
	return gateway.CEPAddress{}, fmt.Errorf("cep lookup: %w", lastErr)
}

func getJSON(ctx context.Context, hc *http.Client, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
		return gateway.ErrCEPNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type viaCEP struct {
	baseURL string
	hc      *http.Client
}

func (p *viaCEP) name() string { return "viacep" }

func (p *viaCEP) lookup(ctx context.Context, cep string) (gateway.CEPAddress, error) {
	var res struct {
		CEP        string `json:"cep"`
		Logradouro string `json:"logradouro"`
		Bairro     string `json:"bairro"`
		Localidade string `json:"localidade"`
		UF         string `json:"uf"`
		//見つからないときは {"erro": true}（文字列のこともある）
		Erro interface{} `json:"erro"`
	}
	if err := getJSON(ctx, p.hc, p.baseURL+"/ws/"+cep+"/json/", &res); err != nil {
		return gateway.CEPAddress{}, err
	}
	if res.Erro != nil {
		return gateway.CEPAddress{}, gateway.ErrCEPNotFound
	}
	return gateway.CEPAddress{
		CEP:          cep,
		Street:       res.Logradouro,
		Neighborhood: res.Bairro,
		City:         res.Localidade,
		State:        res.UF,
	}, nil
}

type brasilAPI struct {
	baseURL string
	hc      *http.Client
}

func (p *brasilAPI) name() string { return "brasilapi" }

func (p *brasilAPI) lookup(ctx context.Context, cep string) (gateway.CEPAddress, error) {
	var res struct {
		CEP          string `json:"cep"`
		State        string `json:"state"`
		City         string `json:"city"`
		Neighborhood string `json:"neighborhood"`
		Street       string `json:"street"`
	}
	if err := getJSON(ctx, p.hc, p.baseURL+"/api/cep/v1/"+cep, &res); err != nil {
		return gateway.CEPAddress{}, err
	}
	return gateway.CEPAddress{
		CEP:          cep,
		Street:       res.Street,
		Neighborhood: res.Neighborhood,
		City:         res.City,
		State:        res.State,
	}, nil
}
