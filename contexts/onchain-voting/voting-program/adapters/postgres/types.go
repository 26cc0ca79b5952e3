package postgresadapter

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
)

// U64 stores an unsigned 64-bit id as zero-padded decimal text. Postgres has
// no unsigned bigint, and the padding keeps lexical and numeric order equal.
type U64 uint64

func (v *U64) Scan(value any) error {
	switch raw := value.(type) {
	case nil:
		*v = 0
		return nil
	case string:
		return v.parse(raw)
	case []byte:
		return v.parse(string(raw))
	case int64:
		if raw < 0 {
			return fmt.Errorf("failed to scan U64: negative value %d", raw)
		}
		*v = U64(raw)
		return nil
	default:
		return fmt.Errorf("failed to scan U64: unsupported type %T", value)
	}
}

func (v *U64) parse(raw string) error {
	parsed, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("failed to scan U64: %w", err)
	}
	*v = U64(parsed)
	return nil
}

func (v U64) Value() (driver.Value, error) {
	return fmt.Sprintf("%020d", uint64(v)), nil
}
