package types

import (
	"database/sql/driver"
	"fmt"
)

// Value implements driver.Valuer so U256 can be stored directly in a
// decimal(78,0) column, per §6 Persistence layout — never as a float64.
func (u U256) Value() (driver.Value, error) {
	return u.inner.Dec(), nil
}

// Scan implements sql.Scanner for the reverse direction.
func (u *U256) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		parsed, err := U256FromDecimalString(v)
		if err != nil {
			return err
		}
		*u = parsed
		return nil
	case []byte:
		parsed, err := U256FromDecimalString(string(v))
		if err != nil {
			return err
		}
		*u = parsed
		return nil
	case int64:
		*u = U256FromUint64(uint64(v))
		return nil
	case nil:
		*u = U256{}
		return nil
	default:
		return fmt.Errorf("types: cannot scan %T into U256", src)
	}
}

// GormDataType pins the column type so AutoMigrate emits decimal(78,0)
// rather than gorm's default for an opaque struct.
func (U256) GormDataType() string { return "decimal(78,0)" }

// Value/Scan for Address and Hash32/OrderUid — stored as bytea per §6.

func (a Address) Value() (driver.Value, error) { return a[:], nil }

func (a *Address) Scan(src interface{}) error {
	b, ok := src.([]byte)
	if !ok {
		if src == nil {
			*a = Address{}
			return nil
		}
		return fmt.Errorf("types: cannot scan %T into Address", src)
	}
	if len(b) != 20 {
		return fmt.Errorf("types: invalid Address column length %d", len(b))
	}
	copy(a[:], b)
	return nil
}

func (Address) GormDataType() string { return "bytea" }

func (h Hash32) Value() (driver.Value, error) { return h[:], nil }

func (h *Hash32) Scan(src interface{}) error {
	b, ok := src.([]byte)
	if !ok {
		if src == nil {
			*h = Hash32{}
			return nil
		}
		return fmt.Errorf("types: cannot scan %T into Hash32", src)
	}
	if len(b) != 32 {
		return fmt.Errorf("types: invalid Hash32 column length %d", len(b))
	}
	copy(h[:], b)
	return nil
}

func (Hash32) GormDataType() string { return "bytea" }

func (u OrderUid) Value() (driver.Value, error) { return u[:], nil }

func (u *OrderUid) Scan(src interface{}) error {
	b, ok := src.([]byte)
	if !ok {
		if src == nil {
			*u = OrderUid{}
			return nil
		}
		return fmt.Errorf("types: cannot scan %T into OrderUid", src)
	}
	if len(b) != 56 {
		return fmt.Errorf("types: invalid OrderUid column length %d", len(b))
	}
	copy(u[:], b)
	return nil
}

func (OrderUid) GormDataType() string { return "bytea" }

func (s Signature) Value() (driver.Value, error) { return s[:], nil }

func (s *Signature) Scan(src interface{}) error {
	b, ok := src.([]byte)
	if !ok {
		if src == nil {
			*s = Signature{}
			return nil
		}
		return fmt.Errorf("types: cannot scan %T into Signature", src)
	}
	if len(b) != 65 {
		return fmt.Errorf("types: invalid Signature column length %d", len(b))
	}
	copy(s[:], b)
	return nil
}

func (Signature) GormDataType() string { return "bytea" }
