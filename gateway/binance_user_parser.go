package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"quote-engine/order"
)

// ErrNonUserData 消息不是用户数据流事件。
var ErrNonUserData = errors.New("not a user data event")

// 用户数据流事件类型
const (
	UserEventOrderUpdate      = "ORDER_TRADE_UPDATE"
	UserEventAccountUpdate    = "ACCOUNT_UPDATE"
	UserEventListenKeyExpired = "listenKeyExpired"
)

// OrderUpdate ORDER_TRADE_UPDATE 中的订单字段。
// 大小写不同的同名键（s/S、x/X、l/L、n/N、t/T）都要声明，否则会被大小写不敏感匹配覆盖。
type OrderUpdate struct {
	Symbol        string      `json:"s"`
	ClientOrderID string      `json:"c"`
	Side          string      `json:"S"`
	OrderType     string      `json:"o"`
	OrigQty       json.Number `json:"q"`
	Price         json.Number `json:"p"`
	ExecutionType string      `json:"x"`
	Status        string      `json:"X"`
	OrderID       int64       `json:"i"`
	LastFilledQty json.Number `json:"l"`
	LastPrice     json.Number `json:"L"`
	CumQty        json.Number `json:"z"`
	Commission    json.Number `json:"n"`
	FeeAsset      string      `json:"N"`
	TradeTime     int64       `json:"T"`
	TradeID       int64       `json:"t"`
	IsMaker       bool        `json:"m"`
}

// AccountPosition ACCOUNT_UPDATE 中的持仓。
type AccountPosition struct {
	Symbol      string      `json:"s"`
	PositionAmt json.Number `json:"pa"`
	EntryPrice  json.Number `json:"ep"`
	Unrealized  json.Number `json:"up"`
}

// AccountUpdate ACCOUNT_UPDATE 中的账户变动。
type AccountUpdate struct {
	Reason    string            `json:"m"`
	Positions []AccountPosition `json:"P"`
}

// UserDataEvent 解析后的用户数据流事件。
type UserDataEvent struct {
	Type      string
	EventTime time.Time
	Order     *OrderUpdate
	Account   *AccountUpdate
}

type userDataEnvelope struct {
	Event     string          `json:"e"`
	EventTime int64           `json:"E"`
	TxTime    int64           `json:"T"`
	Order     json.RawMessage `json:"o"`
	Account   json.RawMessage `json:"a"`
}

// ParseUserData 解析用户数据流消息。
func ParseUserData(raw []byte) (UserDataEvent, error) {
	var env userDataEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return UserDataEvent{}, err
	}
	ev := UserDataEvent{Type: env.Event}
	if env.EventTime > 0 {
		ev.EventTime = time.UnixMilli(env.EventTime).UTC()
	}
	switch env.Event {
	case UserEventOrderUpdate:
		var o OrderUpdate
		if err := json.Unmarshal(env.Order, &o); err != nil {
			return UserDataEvent{}, fmt.Errorf("order update: %w", err)
		}
		ev.Order = &o
	case UserEventAccountUpdate:
		var a AccountUpdate
		if err := json.Unmarshal(env.Account, &a); err != nil {
			return UserDataEvent{}, fmt.Errorf("account update: %w", err)
		}
		ev.Account = &a
	case UserEventListenKeyExpired:
	default:
		return UserDataEvent{}, ErrNonUserData
	}
	return ev, nil
}

// Event 把订单更新映射为回报；不关心的执行类型返回 false。
// EXPIRED（含 GTX 挂单会吃单被拒）按撤单处理：订单都已离开盘口。
func (o OrderUpdate) Event() (Event, bool) {
	ev := Event{
		Symbol:  o.Symbol,
		OrderID: o.ClientOrderID,
		Side:    order.Side(o.Side),
	}
	if o.OrderID > 0 {
		ev.VenueOrderID = strconv.FormatInt(o.OrderID, 10)
	}
	if ev.OrderID == "" {
		ev.OrderID = ev.VenueOrderID
	}
	if o.TradeTime > 0 {
		ev.Time = time.UnixMilli(o.TradeTime).UTC()
	}
	switch o.ExecutionType {
	case "NEW":
		ev.Kind = EventAck
		ev.Price, _ = o.Price.Float64()
	case "TRADE":
		qty, err := o.LastFilledQty.Float64()
		if err != nil || qty <= 0 {
			return Event{}, false
		}
		ev.Kind = EventFill
		ev.FilledQty = qty
		ev.Price, _ = o.LastPrice.Float64()
		ev.Taker = !o.IsMaker
	case "CANCELED":
		ev.Kind = EventCanceled
	case "EXPIRED":
		ev.Kind = EventCanceled
		ev.Reason = "expired"
	default:
		return Event{}, false
	}
	return ev, true
}
