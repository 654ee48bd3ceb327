package domain

import "fmt"

// scanEnum implements sql.Scanner for the string enums in this package. A
// value the parser does not know is an error, never a default.
func scanEnum[T ~string](src any, dst *T, parse func(string) (T, error)) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	case nil:
		return fmt.Errorf("cannot scan NULL into %T", *dst)
	default:
		return fmt.Errorf("cannot scan %T into %T", src, *dst)
	}
	parsed, err := parse(raw)
	if err != nil {
		return err
	}
	*dst = parsed
	return nil
}

func unknown(kind, value string) error {
	return fmt.Errorf("unknown %s %q", kind, value)
}
