// Package feed implements the JSON broadcast feed client. The transport
// delivers touchline and depth frames for subscribed instruments; this
// package decodes them into ticks and hands them to the hub.
package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"xts-terminal/internal/models"
)

// Broadcast message codes on the wire.
const (
	CodeTouchline   = 1501
	CodeMarketDepth = 1502
	CodeLTP         = 1512
)

// depthInfo is one book level as it appears on the wire.
type depthInfo struct {
	Price float64 `json:"Price"`
	Size  int64   `json:"Size"`
	Count int32   `json:"TotalOrders"`
}

// touchline is the nested quote object of a 1501 frame. The feed really
// does spell LastTradedQunatity that way.
type touchline struct {
	LastTradedPrice     float64     `json:"LastTradedPrice"`
	LastTradedQunatity  int64       `json:"LastTradedQunatity"`
	TotalBuyQuantity    int64       `json:"TotalBuyQuantity"`
	TotalSellQuantity   int64       `json:"TotalSellQuantity"`
	TotalTradedQuantity int64       `json:"TotalTradedQuantity"`
	AverageTradedPrice  float64     `json:"AverageTradedPrice"`
	Open                float64     `json:"Open"`
	High                float64     `json:"High"`
	Low                 float64     `json:"Low"`
	Close               float64     `json:"Close"`
	OpenInterest        int64       `json:"OpenInterest"`
	BidInfo             depthInfo   `json:"BidInfo"`
	AskInfo             depthInfo   `json:"AskInfo"`
	Bids                []depthInfo `json:"Bids"`
	Asks                []depthInfo `json:"Asks"`
	LastUpdateTime      int64       `json:"LastUpdateTime"`
}

// frame is one broadcast message.
type frame struct {
	MessageCode          int        `json:"MessageCode"`
	ExchangeSegment      int        `json:"ExchangeSegment"`
	ExchangeInstrumentID int64      `json:"ExchangeInstrumentID"`
	Touchline            *touchline `json:"Touchline"`

	// Flat fields used by 1512 LTP frames and legacy senders.
	LastTradedPrice float64 `json:"LastTradedPrice"`
	Volume          int64   `json:"Volume"`
}

// ParseFrame decodes one broadcast message into a tick. Frames without an
// instrument id are rejected.
func ParseFrame(data []byte) (models.Tick, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return models.Tick{}, fmt.Errorf("failed to decode feed frame: %w", err)
	}
	if f.ExchangeInstrumentID == 0 {
		return models.Tick{}, fmt.Errorf("feed frame without instrument id")
	}

	tick := models.Tick{
		ExchangeSegment:      f.ExchangeSegment,
		ExchangeInstrumentID: f.ExchangeInstrumentID,
		LTP:                  f.LastTradedPrice,
		Volume:               f.Volume,
		LastUpdateTime:       time.Now(),
	}

	if tl := f.Touchline; tl != nil {
		tick.LTP = tl.LastTradedPrice
		tick.Open = tl.Open
		tick.High = tl.High
		tick.Low = tl.Low
		tick.Close = tl.Close
		tick.Volume = tl.TotalTradedQuantity
		tick.OpenInterest = tl.OpenInterest
		tick.LastTradeQty = tl.LastTradedQunatity
		tick.AvgPrice = tl.AverageTradedPrice
		if tl.LastUpdateTime > 0 {
			tick.LastUpdateTime = time.Unix(tl.LastUpdateTime, 0)
		}
		copyDepth(&tick.Bids, tl.Bids, tl.BidInfo)
		copyDepth(&tick.Asks, tl.Asks, tl.AskInfo)
	}
	return tick, nil
}

// copyDepth fills a fixed depth array from the wire's level list, falling
// back to the single best-level object partial frames carry.
func copyDepth(dst *[models.DepthSize]models.DepthLevel, levels []depthInfo, best depthInfo) {
	if len(levels) == 0 {
		if best.Price > 0 {
			dst[0] = models.DepthLevel{Price: best.Price, Quantity: best.Size, Orders: best.Count}
		}
		return
	}
	for i := 0; i < len(levels) && i < models.DepthSize; i++ {
		dst[i] = models.DepthLevel{Price: levels[i].Price, Quantity: levels[i].Size, Orders: levels[i].Count}
	}
}

// subscribeRequest is the frame sent to (un)subscribe instruments.
type subscribeRequest struct {
	Type            string  `json:"type"`
	MessageCode     int     `json:"xtsMessageCode"`
	ExchangeSegment int     `json:"exchangeSegment"`
	Instruments     []int64 `json:"instruments"`
}

func encodeSubscribe(subscribe bool, segment int, tokens []int64) ([]byte, error) {
	typ := "subscribe"
	if !subscribe {
		typ = "unsubscribe"
	}
	return json.Marshal(subscribeRequest{
		Type:            typ,
		MessageCode:     CodeMarketDepth,
		ExchangeSegment: segment,
		Instruments:     tokens,
	})
}
