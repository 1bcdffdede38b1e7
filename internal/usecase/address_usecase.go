package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"brickshop/internal/domain/model"
	"brickshop/internal/gateway"
	"brickshop/internal/repository"
)

type AddressDTO struct {
	ID            int64   `json:"id"`
	UserID        int64   `json:"user_id"`
	RecipientName string  `json:"recipient_name"`
	CEP           string  `json:"cep"`
	Street        string  `json:"street"`
	Number        string  `json:"number"`
	Complement    string  `json:"complement"`
	Neighborhood  string  `json:"neighborhood"`
	City          string  `json:"city"`
	State         string  `json:"state"`
	Phone         string  `json:"phone"`
	IsDefault     bool    `json:"is_default"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     *string `json:"updated_at,omitempty"`
}

// 作成・更新とも同じ項目
type AddressRequest struct {
	RecipientName string `json:"recipient_name"`
	CEP           string `json:"cep"`
	Street        string `json:"street"`
	Number        string `json:"number"`
	Complement    string `json:"complement"`
	Neighborhood  string `json:"neighborhood"`
	City          string `json:"city"`
	State         string `json:"state"`
	Phone         string `json:"phone"`
	IsDefault     bool   `json:"is_default"`
}

type AddressUsecase struct {
	addresses repository.AddressRepository
	cep       gateway.CEPLookup
}

func NewAddressUsecase(addresses repository.AddressRepository, cep gateway.CEPLookup) *AddressUsecase {
	return &AddressUsecase{addresses: addresses, cep: cep}
}

func (u *AddressUsecase) List(ctx context.Context, userID int64) ([]AddressDTO, error) {
	if userID <= 0 {
		return nil, ErrUnauthorized
	}

	list, err := u.addresses.ListByUserID(ctx, userID)
	if err != nil {
		return nil, ErrInternal
	}

	out := make([]AddressDTO, 0, len(list))
	for i := range list {
		out = append(out, toAddressDTO(&list[i]))
	}
	return out, nil
}

func (u *AddressUsecase) Get(ctx context.Context, userID int64, addressID int64) (AddressDTO, error) {
	if userID <= 0 {
		return AddressDTO{}, ErrUnauthorized
	}
	if err := u.checkOwner(ctx, userID, addressID); err != nil {
		return AddressDTO{}, err
	}

	a, err := u.addresses.FindByID(ctx, addressID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return AddressDTO{}, ErrNotFound
		}
		return AddressDTO{}, ErrInternal
	}
	return toAddressDTO(&a), nil
}

func (u *AddressUsecase) Create(ctx context.Context, userID int64, req AddressRequest) (AddressDTO, error) {
	if userID <= 0 {
		return AddressDTO{}, ErrUnauthorized
	}

	a, err := addressFromRequest(req)
	if err != nil {
		return AddressDTO{}, err
	}

	now := time.Now()
	a.UserID = userID
	a.CreatedAt = now
	a.UpdatedAt = now

	//is_default=true なら他のデフォルトはrepo側で外す
	created, err := u.addresses.Create(ctx, a)
	if err != nil {
		return AddressDTO{}, ErrInternal
	}

	return toAddressDTO(&created), nil
}

func (u *AddressUsecase) Update(ctx context.Context, userID int64, addressID int64, req AddressRequest) (AddressDTO, error) {
	if userID <= 0 {
		return AddressDTO{}, ErrUnauthorized
	}
	if err := u.checkOwner(ctx, userID, addressID); err != nil {
		return AddressDTO{}, err
	}

	a, err := addressFromRequest(req)
	if err != nil {
		return AddressDTO{}, err
	}
	a.ID = addressID
	a.UserID = userID
	a.UpdatedAt = time.Now()

	if err := u.addresses.Update(ctx, a); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return AddressDTO{}, ErrNotFound
		}
		return AddressDTO{}, ErrInternal
	}

	updated, err := u.addresses.FindByID(ctx, addressID)
	if err != nil {
		return AddressDTO{}, ErrInternal
	}
	return toAddressDTO(&updated), nil
}

func (u *AddressUsecase) Delete(ctx context.Context, userID int64, addressID int64) error {
	if userID <= 0 {
		return ErrUnauthorized
	}
	if err := u.checkOwner(ctx, userID, addressID); err != nil {
		return err
	}

	if err := u.addresses.Delete(ctx, addressID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		//注文が参照中などで削除できない 409
		return ErrConflict
	}

	return nil
}

func (u *AddressUsecase) SetDefault(ctx context.Context, userID int64, addressID int64) error {
	if userID <= 0 {
		return ErrUnauthorized
	}
	if err := u.checkOwner(ctx, userID, addressID); err != nil {
		return err
	}

	//user内でdefaultは1つ
	if err := u.addresses.SetDefault(ctx, userID, addressID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return ErrInternal
	}

	return nil
}

// LookupCEP は住所の自動入力
func (u *AddressUsecase) LookupCEP(ctx context.Context, cep string) (gateway.CEPAddress, error) {
	digits := onlyDigits(cep)
	if len(digits) != 8 {
		return gateway.CEPAddress{}, NewValidationError("invalid cep", map[string]string{"cep": "must have 8 digits"})
	}

	addr, err := u.cep.Lookup(ctx, digits)
	if err != nil {
		if errors.Is(err, gateway.ErrCEPNotFound) {
			return gateway.CEPAddress{}, NewHTTPError(http.StatusNotFound, "cep not found")
		}
		return gateway.CEPAddress{}, providerError("cep lookup failed", err)
	}
	return addr, nil
}

// 所有チェック（本人のみ）
func (u *AddressUsecase) checkOwner(ctx context.Context, userID, addressID int64) error {
	if addressID <= 0 {
		return ErrValidation
	}
	owned, err := u.addresses.IsOwnedByUser(ctx, addressID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return ErrInternal
	}
	if !owned {
		return ErrForbidden
	}
	return nil
}

// 入力チェックして model にする（ゲスト購入でも使う）
func addressFromRequest(req AddressRequest) (model.Address, error) {
	a := model.Address{
		RecipientName: strings.TrimSpace(req.RecipientName),
		CEP:           strings.TrimSpace(req.CEP),
		Street:        strings.TrimSpace(req.Street),
		Number:        strings.TrimSpace(req.Number),
		Complement:    strings.TrimSpace(req.Complement),
		Neighborhood:  strings.TrimSpace(req.Neighborhood),
		City:          strings.TrimSpace(req.City),
		State:         strings.ToUpper(strings.TrimSpace(req.State)),
		Phone:         strings.TrimSpace(req.Phone),
		IsDefault:     req.IsDefault,
	}

	fields := map[string]string{}
	required := map[string]string{
		"recipient_name": a.RecipientName,
		"street":         a.Street,
		"number":         a.Number,
		"neighborhood":   a.Neighborhood,
		"city":           a.City,
	}
	for k, v := range required {
		if v == "" {
			fields[k] = "required"
		}
	}
	if len(onlyDigits(a.CEP)) != 8 {
		fields["cep"] = "must have 8 digits"
	}
	if len(a.State) != 2 {
		fields["state"] = "must be a 2-letter UF"
	}
	if len(fields) > 0 {
		return model.Address{}, NewValidationError("invalid address", fields)
	}
	return a, nil
}

func toAddressDTO(a *model.Address) AddressDTO {
	dto := AddressDTO{
		ID:            a.ID,
		UserID:        a.UserID,
		RecipientName: a.RecipientName,
		CEP:           a.CEP,
		Street:        a.Street,
		Number:        a.Number,
		Complement:    a.Complement,
		Neighborhood:  a.Neighborhood,
		City:          a.City,
		State:         a.State,
		Phone:         a.Phone,
		IsDefault:     a.IsDefault,
		CreatedAt:     formatTime(a.CreatedAt),
	}
	t := formatTime(a.UpdatedAt)
	dto.UpdatedAt = &t
	return dto
}
