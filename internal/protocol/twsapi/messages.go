package twsapi

// Inbound message kinds (client -> gateway). The numeric values are the
// vendor's public wire identifiers and must not be renumbered.
const (
	InReqMktData         int64 = 1
	InCancelMktData      int64 = 2
	InPlaceOrder         int64 = 3
	InCancelOrder        int64 = 4
	InReqOpenOrders      int64 = 5
	InReqAcctData        int64 = 6
	InReqExecutions      int64 = 7
	InReqIDs             int64 = 8
	InReqContractData    int64 = 9
	InReqManagedAccts    int64 = 17
	InReqHistoricalData  int64 = 20
	InReqCurrentTime     int64 = 49
	InReqPositions       int64 = 61
	InStartAPI           int64 = 71
	InReqPositionsMulti  int64 = 74
	InReqSecDefOptParams int64 = 78
)

// Outbound message kinds (gateway -> client).
const (
	OutTickPrice                            int64 = 1
	OutTickSize                             int64 = 2
	OutOrderStatus                          int64 = 3
	OutErrMsg                               int64 = 4
	OutOpenOrder                            int64 = 5
	OutAcctValue                            int64 = 6
	OutPortfolioValue                       int64 = 7
	OutAcctUpdateTime                       int64 = 8
	OutNextValidID                          int64 = 9
	OutContractData                         int64 = 10
	OutExecutionData                        int64 = 11
	OutMarketDepth                          int64 = 12
	OutManagedAccts                         int64 = 15
	OutHistoricalData                       int64 = 17
	OutTickGeneric                          int64 = 45
	OutTickString                           int64 = 46
	OutCurrentTime                          int64 = 49
	OutContractDataEnd                      int64 = 52
	OutOpenOrderEnd                         int64 = 53
	OutAcctDownloadEnd                      int64 = 54
	OutExecutionDataEnd                     int64 = 55
	OutMarketDataType                       int64 = 58
	OutCommissionReport                     int64 = 59
	OutPositionData                         int64 = 61
	OutPositionEnd                          int64 = 62
	OutAccountSummary                       int64 = 63
	OutSecurityDefinitionOptionParameter    int64 = 75
	OutSecurityDefinitionOptionParameterEnd int64 = 76
)

// Error codes carried in ERR_MSG frames. MAX_RATE_EXCEEDED and UNKNOWN_ID
// match the vendor's published codes; SERVER_ERROR is the vendor's
// "server error when reading an API client request".
const (
	ErrCodeMaxRateExceeded int64 = 100
	ErrCodeNoSecurityDef   int64 = 200
	ErrCodeServerError     int64 = 320
	ErrCodeUnknownID       int64 = 505
)

// Tick type codes used in the initial market-data burst and in broadcasts.
const (
	TickBidSize  int64 = 0
	TickBid      int64 = 1
	TickAsk      int64 = 2
	TickAskSize  int64 = 3
	TickLast     int64 = 4
	TickLastSize int64 = 5
	TickVolume   int64 = 8
)
