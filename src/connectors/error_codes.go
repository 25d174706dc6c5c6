package connectors

import "fmt"

// PhemexErrorCodes maps Phemex bizError codes to their names.
var PhemexErrorCodes = map[int]string{
	10001: "OM_DUPLICATE_ORDERID",
	10002: "OM_ORDER_NOT_FOUND",
	10003: "OM_ORDER_PENDING_CANCEL",
	10004: "OM_ORDER_PENDING_REPLACE",
	10005: "OM_ORDER_PENDING",
	11001: "TE_SUCCESS",
	11002: "TE_UNKNOWN_ERROR",
	11003: "TE_INVALID_ARGUMENT",
	11005: "TE_MAINTENANCE_MODE",
	11011: "TE_REDUCE_ONLY_ABORT",
	11012: "TE_REPLACE_TO_INVALID_QTY",
	11013: "TE_REPLACE_TO_INVALID_PRICE",
	11014: "TE_REPLACE_TO_INVALID_LEVERAGE",
	11015: "TE_PRICE_TOO_SMALL",
	11016: "TE_PRICE_TOO_LARGE",
	11017: "TE_QTY_TOO_SMALL",
	11018: "TE_QTY_TOO_LARGE",
	11019: "TE_VALUE_TOO_SMALL",
	11020: "TE_VALUE_TOO_LARGE",
	11021: "TE_TOTAL_ORDER_VALUE_TOO_LARGE",
	11022: "TE_STOP_PRICE_INVALID",
	11037: "TE_USER_NOT_EXIST",
	11040: "TE_MARGIN_ACCOUNT_NOT_EXIST",
	11041: "TE_MARGIN_ACCOUNT_FROZEN",
	11050: "TE_RISK_LIMIT_EXCEEDED",
	11051: "TE_INSUFFICIENT_BALANCE",
	11052: "TE_INSUFFICIENT_MARGIN",
	11060: "TE_POSITION_MISMATCH",
	11061: "TE_POSITION_MARGIN_INVALID",
	11062: "TE_POSITION_NOT_EXIST",
	11063: "TE_TPSL_TOO_SMALL",
	11064: "TE_TPSL_TOO_LARGE",
	11065: "TE_TPSL_INVALID_TYPE",
	11066: "TE_ORDER_UNSUPPORTED",
	11067: "TE_ORDER_DISABLED",
	11070: "TE_MARKET_CLOSED",
	11071: "TE_RESTRICTED_REGION",
	11081: "TE_CLIENT_ID_EXIST",
	11082: "TE_CLIENT_ID_INVALID",
	11100: "TE_TOO_MANY_ORDERS",
	11101: "TE_TOO_MANY_ORDERS_PER_SIDE",
	11102: "TE_TOO_MANY_ORDERS_PER_PRICE",
	11120: "TE_CONTRACT_NOT_FOUND",
	11121: "TE_CONTRACT_NOT_ALLOWED",
	19999: "REQUEST_IS_DUPLICATED",
	39996: "TOO_MANY_REQUESTS",
}

// GetErrorMsg returns the name of a Phemex code, or a generic label for unknown codes.
func GetErrorMsg(code int) string {
	if msg, ok := PhemexErrorCodes[code]; ok {
		return msg
	}
	return fmt.Sprintf("UNKNOWN_PHEMEX_ERROR_%d", code)
}

// classifyPhemexCode turns a non-zero bizError code into the error taxonomy.
func classifyPhemexCode(code int, msg string) error {
	switch code {
	case 0, 11001:
		return nil
	case 11051, 11052:
		return fmt.Errorf("phemex %d %s: %w", code, GetErrorMsg(code), ErrInsufficientBalance)
	case 39996, 11100:
		return fmt.Errorf("phemex %d %s: %w", code, GetErrorMsg(code), ErrRateLimited)
	case 11002, 11005:
		return fmt.Errorf("phemex %d %s: %w", code, GetErrorMsg(code), ErrTransient)
	}
	if name, ok := PhemexErrorCodes[code]; ok {
		return &RejectedError{Exchange: "phemex", Code: int64(code), Reason: name}
	}
	return &UnknownCodeError{Exchange: "phemex", Code: int64(code), Msg: msg}
}

// binanceErrorCodes lists the futures API codes this client recognises.
var binanceErrorCodes = map[int64]string{
	-1000: "UNKNOWN",
	-1001: "DISCONNECTED",
	-1003: "TOO_MANY_REQUESTS",
	-1006: "UNEXPECTED_RESP",
	-1007: "TIMEOUT",
	-1008: "SERVER_BUSY",
	-1015: "TOO_MANY_ORDERS",
	-1021: "INVALID_TIMESTAMP",
	-1022: "INVALID_SIGNATURE",
	-1102: "MANDATORY_PARAM_EMPTY_OR_MALFORMED",
	-1111: "BAD_PRECISION",
	-1121: "BAD_SYMBOL",
	-2011: "UNKNOWN_ORDER",
	-2013: "NO_SUCH_ORDER",
	-2014: "BAD_API_KEY_FMT",
	-2015: "REJECTED_MBX_KEY",
	-2018: "BALANCE_NOT_SUFFICIENT",
	-2019: "MARGIN_NOT_SUFFICIEN",
	-2021: "ORDER_WOULD_IMMEDIATELY_TRIGGER",
	-2022: "REDUCE_ONLY_REJECT",
	-4003: "QTY_LESS_THAN_ZERO",
	-4014: "PRICE_NOT_INCREASED_BY_TICK_SIZE",
	-4023: "QTY_NOT_INCREASED_BY_STEP_SIZE",
	-4164: "MIN_NOTIONAL",
}

func classifyBinanceCode(code int64, msg string) error {
	switch code {
	case 0:
		return nil
	case -1022, -1021, -2014, -2015:
		return fmt.Errorf("binance %d %s: %w", code, binanceErrorCodes[code], ErrInvalidSignature)
	case -2018, -2019:
		return fmt.Errorf("binance %d %s: %w", code, binanceErrorCodes[code], ErrInsufficientBalance)
	case -1003, -1015:
		return fmt.Errorf("binance %d %s: %w", code, binanceErrorCodes[code], ErrRateLimited)
	case -1000, -1001, -1006, -1007, -1008:
		return fmt.Errorf("binance %d %s: %w", code, binanceErrorCodes[code], ErrTransient)
	}
	if name, ok := binanceErrorCodes[code]; ok {
		return &RejectedError{Exchange: "binance", Code: code, Reason: name}
	}
	return &UnknownCodeError{Exchange: "binance", Code: code, Msg: msg}
}
