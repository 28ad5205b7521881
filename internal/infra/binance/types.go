package binance

// aggTradeFrame is the USDT-M futures aggregate trade stream payload.
// Reference: https://binance-docs.github.io/apidocs/futures/en/#aggregate-trade-streams
type aggTradeFrame struct {
	EventType    string `json:"e"` // aggTrade
	EventTimeMs  int64  `json:"E"`
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTimeMs  int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"` // true means the taker sold
}

type serverTimeResponse struct {
	ServerTime int64 `json:"serverTime"`
}

type accountResponse struct {
	TotalInitialMargin string            `json:"totalInitialMargin"`
	Assets             []accountAsset    `json:"assets"`
	Positions          []accountPosition `json:"positions"`
}

type accountAsset struct {
	Asset            string `json:"asset"`
	WalletBalance    string `json:"walletBalance"`
	AvailableBalance string `json:"availableBalance"`
	UnrealizedProfit string `json:"unrealizedProfit"`
}

type accountPosition struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	UnrealizedProfit string `json:"unrealizedProfit"`
	Leverage         string `json:"leverage"`
}

type exchangeInfoResponse struct {
	Symbols []exchangeSymbol `json:"symbols"`
}

type exchangeSymbol struct {
	Symbol       string           `json:"symbol"`
	ContractType string           `json:"contractType"`
	QuoteAsset   string           `json:"quoteAsset"`
	Status       string           `json:"status"`
	Filters      []exchangeFilter `json:"filters"`
}

type exchangeFilter struct {
	FilterType  string `json:"filterType"`
	TickSize    string `json:"tickSize"`
	StepSize    string `json:"stepSize"`
	MinNotional string `json:"notional"`
}

type ticker24hEntry struct {
	Symbol      string `json:"symbol"`
	QuoteVolume string `json:"quoteVolume"`
}
