package enums

// PaymentMethod records how an order was paid.
type PaymentMethod string

const (
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
	PaymentMethodGateway        PaymentMethod = "gateway"
)
