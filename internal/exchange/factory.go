package exchange

import (
	binance "github.com/adshao/go-binance/v2"
	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
)

// New creates the exchange adapter for a configured platform. This is the
// single point of truth for platform dispatch.
func New(platform, apiKey, apiSecret, quoteCurrency string) (Exchange, error) {
	switch platform {
	case "binance":
		return NewBinanceExchange(binance.NewClient(apiKey, apiSecret), quoteCurrency), nil
	case "bybit":
		return NewBybitExchange(bybit.NewClient().WithAuth(apiKey, apiSecret), quoteCurrency), nil
	default:
		return nil, errors.Errorf("unsupported platform: %s", platform)
	}
}
