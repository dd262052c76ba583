package sippy

import (
	"fmt"
	"strings"

	"github.com/didport/didport/internal/sippy/domain"
)

// Outcome is the normalized verdict of a ledger debit or credit response.
type Outcome struct {
	OK            bool
	TransactionID string
	Error         string
}

// Classify interprets a heterogeneous ledger response. The remote API has no
// canonical success field: depending on version and operation it reports
// result, tx_result, a bare transaction id, or nothing at all. The OR of
// conditions below is deliberately permissive; tighten it only against
// captured responses from every API version in use.
func Classify(result domain.Result) Outcome {
	out := Outcome{
		TransactionID: firstString(result, "tx_id", "payment_id", "i_payment"),
		Error:         firstString(result, "error", "tx_error"),
	}

	if resultIndicatesSuccess(result["result"]) {
		out.OK = true
		return out
	}
	if txResultIndicatesSuccess(result["tx_result"]) {
		out.OK = true
		return out
	}
	if out.TransactionID != "" && out.Error == "" {
		out.OK = true
		return out
	}
	if raw, ok := result["result"]; ok && truthy(raw) && out.Error == "" {
		lowered := strings.ToLower(strings.TrimSpace(stringify(raw)))
		if lowered != "failed" && lowered != "error" {
			out.OK = true
			return out
		}
	}

	if out.Error == "" {
		out.Error = describeFailure(result)
	}
	return out
}

func resultIndicatesSuccess(value any) bool {
	switch cast := value.(type) {
	case string:
		switch strings.TrimSpace(cast) {
		case "success", "1", "OK", "ok":
			return true
		}
	case int:
		return cast == 1
	case int64:
		return cast == 1
	case float64:
		return cast == 1
	}
	return false
}

func txResultIndicatesSuccess(value any) bool {
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast) == "1"
	case int:
		return cast == 1
	case int64:
		return cast == 1
	case float64:
		return cast == 1
	}
	return false
}

func truthy(value any) bool {
	switch cast := value.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(cast) != ""
	case bool:
		return cast
	case int:
		return cast != 0
	case int64:
		return cast != 0
	case float64:
		return cast != 0
	default:
		return true
	}
}

func firstString(result domain.Result, keys ...string) string {
	for _, key := range keys {
		value, ok := result[key]
		if !ok || value == nil {
			continue
		}
		str := strings.TrimSpace(stringify(value))
		if str != "" {
			return str
		}
	}
	return ""
}

func stringify(value any) string {
	switch cast := value.(type) {
	case string:
		return cast
	case int:
		return fmt.Sprintf("%d", cast)
	case int64:
		return fmt.Sprintf("%d", cast)
	case float64:
		if cast == float64(int64(cast)) {
			return fmt.Sprintf("%d", int64(cast))
		}
		return fmt.Sprintf("%v", cast)
	default:
		return fmt.Sprintf("%v", cast)
	}
}

func describeFailure(result domain.Result) string {
	if raw, ok := result["result"]; ok {
		return fmt.Sprintf("ledger reported result=%v", raw)
	}
	return "ledger response had no recognizable success indicator"
}
