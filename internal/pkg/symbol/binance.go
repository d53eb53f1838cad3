package symbol

// BinanceConverter maps pairs to USDⓈ-M futures symbols. Binance has no USD
// quoted perpetuals, so USD is served by the USDT contract.
type BinanceConverter struct{}

var Binance Converter = BinanceConverter{}

func (BinanceConverter) ToExchange(internal string) string {
	sym := Parse(internal)
	if sym.Base == "" {
		return ""
	}
	if sym.Quote == "USD" {
		sym.Quote = "USDT"
	}
	return sym.Base + sym.Quote
}

func (BinanceConverter) FromExchange(raw string) string {
	return Parse(raw).Internal()
}

func (BinanceConverter) Format() Format {
	return FormatBinance
}
