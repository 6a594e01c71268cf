package model

// SignalKind описывает вид сигнала инвалидации. Сигнал не несёт данных: получатель должен перечитать своё состояние.
type SignalKind string

const (
	SignalAuthChanged    SignalKind = "AUTH_CHANGED"
	SignalCartChanged    SignalKind = "CART_CHANGED"
	SignalWalletChanged  SignalKind = "WALLET_CHANGED"
	SignalOrderPaid      SignalKind = "ORDER_PAID"
	SignalStorageTouched SignalKind = "STORAGE_TOUCHED"
)

// SignalKinds перечисляет все известные виды сигналов.
var SignalKinds = []SignalKind{
	SignalAuthChanged,
	SignalCartChanged,
	SignalWalletChanged,
	SignalOrderPaid,
	SignalStorageTouched,
}

// Valid сообщает, является ли вид сигнала известным.
func (k SignalKind) Valid() bool {
	for _, known := range SignalKinds {
		if k == known {
			return true
		}
	}
	return false
}
