package mailer

import (
	"bytes"
	"html/template"

	"brickshop/internal/domain/model"
	"brickshop/internal/gateway"

	"github.com/shopspring/decimal"
)

var funcs = template.FuncMap{
	"brl": func(cents int64) string {
		return "R$ " + decimal.New(cents, -2).StringFixed(2)
	},
	"lineTotal": func(it model.OrderItem) int64 {
		return it.UnitPriceSnapshot * it.Quantity
	},
}

var (
	orderConfirmationTmpl = template.Must(template.New("order").Funcs(funcs).Parse(`
<h2>Pedido #{{.Order.ID}} confirmado</h2>
<p>Recebemos o pagamento do seu pedido. Em breve ele será enviado.</p>
<table>
{{range .Items}}<tr><td>{{.ProductNameSnapshot}}</td><td>{{.Quantity}}x</td><td>{{brl (lineTotal .)}}</td></tr>
{{end}}</table>
<p>Subtotal: {{brl .Order.Subtotal}}</p>
{{if .Order.DiscountAmount}}<p>Desconto: -{{brl .Order.DiscountAmount}}</p>{{end}}
<p>Frete: {{brl .Order.ShippingPrice}}</p>
<p><strong>Total: {{brl .Order.Total}}</strong></p>
`))

	returnStatusTmpl = template.Must(template.New("return").Parse(`
<h2>Devolução do pedido #{{.OrderID}}</h2>
<p>{{.Message}}</p>
{{if .Reason}}<p>Motivo: {{.Reason}}</p>{{end}}
`))

	passwordResetTmpl = template.Must(template.New("reset").Parse(`
<h2>Redefinição de senha</h2>
<p>Para criar uma nova senha, acesse o link abaixo (válido por 1 hora):</p>
<p><a href="{{.Link}}">{{.Link}}</a></p>
<p>Se você não solicitou, ignore este e-mail.</p>
`))
)

func render(t *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func OrderConfirmation(to string, order model.Order, items []model.OrderItem) (gateway.Mail, error) {
	html, err := render(orderConfirmationTmpl, struct {
		Order model.Order
		Items []model.OrderItem
	}{order, items})
	if err != nil {
		return gateway.Mail{}, err
	}
	return gateway.Mail{To: to, Subject: "Pagamento confirmado - pedido #" + itoa(order.ID), HTML: html}, nil
}

func ReturnStatus(to string, orderID int64, message, reason string) (gateway.Mail, error) {
	html, err := render(returnStatusTmpl, struct {
		OrderID int64
		Message string
		Reason  string
	}{orderID, message, reason})
	if err != nil {
		return gateway.Mail{}, err
	}
	return gateway.Mail{To: to, Subject: "Atualização da devolução - pedido #" + itoa(orderID), HTML: html}, nil
}

func PasswordReset(to, link string) (gateway.Mail, error) {
	html, err := render(passwordResetTmpl, struct{ Link string }{link})
	if err != nil {
		return gateway.Mail{}, err
	}
	return gateway.Mail{To: to, Subject: "Redefinição de senha", HTML: html}, nil
}

func itoa(n int64) string {
	return decimal.NewFromInt(n).String()
}
