package feedkit

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Keyer derives a natural key from a candidate. Implementations must be pure
// functions of the candidate - two candidates with identical derivation
// inputs always yield the same key.
type Keyer interface {
	Key(c *Candidate) (string, error)
}

// KeyerFunc is similar to http.HandlerFunc in that you can make a bare
// function satisfy the Keyer interface by doing KeyerFunc(yourfunc).
type KeyerFunc func(c *Candidate) (string, error)

// Key on KeyerFunc simply calls the wrapped function.
func (f KeyerFunc) Key(c *Candidate) (string, error) {
	return f(c)
}

// DerivationError is returned when a required input is absent from a
// candidate and no key can be derived. It is never retried - the candidate
// is counted as an error and skipped.
type DerivationError struct {
	Field string
	Msg   string
}

func (e *DerivationError) Error() string {
	return fmt.Sprintf("deriving key: %s (field %q)", e.Msg, e.Field)
}

// IsDerivation reports whether err (or its cause) is a DerivationError.
func IsDerivation(err error) bool {
	_, ok := errors.Cause(err).(*DerivationError)
	return ok
}

// Transform is one step in a key chain - a pure function of the accumulated
// partial key and the candidate it came from.
type Transform func(partial string, c *Candidate) (string, error)

// KeyChain is a Keyer built from an ordered chain of transforms applied left
// to right. The chain is supplied by feed configuration; the core only
// guarantees deterministic, side-effect-free composition.
type KeyChain []Transform

// Key applies each transform in order, starting from the empty string.
func (kc KeyChain) Key(c *Candidate) (string, error) {
	var key string
	var err error
	for i, t := range kc {
		key, err = t(key, c)
		if err != nil {
			return "", errors.Wrapf(err, "transform %d", i)
		}
	}
	if key == "" {
		return "", &DerivationError{Msg: "chain produced empty key"}
	}
	return key, nil
}

// Path extracts a string value from the payload at the given path of nested
// map keys, replacing the partial key.
func Path(path ...string) Transform {
	return func(_ string, c *Candidate) (string, error) {
		next := c.Payload
		for i, k := range path {
			vi, ok := next[k]
			if !ok {
				return "", &DerivationError{Field: strings.Join(path[:i+1], "."), Msg: "not found in payload"}
			}
			if i == len(path)-1 {
				switch v := vi.(type) {
				case string:
					return v, nil
				case float64:
					// json numbers decode as float64
					if v == float64(int64(v)) {
						return fmt.Sprintf("%d", int64(v)), nil
					}
					return fmt.Sprintf("%v", v), nil
				default:
					return fmt.Sprintf("%v", v), nil
				}
			}
			next, ok = vi.(map[string]interface{})
			if !ok {
				return "", &DerivationError{Field: strings.Join(path[:i+1], "."), Msg: "not a nested object"}
			}
		}
		return "", &DerivationError{Msg: "empty path"}
	}
}

// Concat appends the value extracted by t to the partial key, separated by
// sep when the partial key is non-empty.
func Concat(sep string, t Transform) Transform {
	return func(partial string, c *Candidate) (string, error) {
		v, err := t("", c)
		if err != nil {
			return "", err
		}
		if partial == "" {
			return v, nil
		}
		return partial + sep + v, nil
	}
}

// Normalize trims surrounding whitespace and lowercases the partial key so
// that cosmetic differences between sources don't defeat deduplication.
func Normalize() Transform {
	return func(partial string, _ *Candidate) (string, error) {
		return strings.ToLower(strings.TrimSpace(partial)), nil
	}
}

// DatePart appends the candidate's observation date (UTC, truncated to the
// given layout) to the partial key. Useful for feeds whose items recur
// periodically under the same name.
func DatePart(layout string) Transform {
	return func(partial string, c *Candidate) (string, error) {
		if c.ObservedAt.IsZero() {
			return "", &DerivationError{Field: "observed_at", Msg: "candidate has no observation time"}
		}
		part := c.ObservedAt.UTC().Format(layout)
		if partial == "" {
			return part, nil
		}
		return partial + "|" + part, nil
	}
}

// dateLayout is the default layout for DatePart.
const dateLayout = "2006-01-02"

// DailyKey is a ready-made chain for feeds keyed by a single payload field
// plus the observation date.
func DailyKey(field string) KeyChain {
	return KeyChain{
		Path(field),
		DatePart(dateLayout),
		Normalize(),
	}
}

// FieldKeyer builds a chain joining the named payload fields with "|". Each
// field may be a dot separated path into nested objects. This is the keyer
// the command line tools construct from their --key-fields flag.
func FieldKeyer(fields ...string) KeyChain {
	kc := make(KeyChain, 0, len(fields)+1)
	for _, f := range fields {
		kc = append(kc, Concat("|", Path(strings.Split(f, ".")...)))
	}
	return append(kc, Normalize())
}
