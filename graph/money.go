package graph

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/studentbank_backend/models"
	"github.com/99designs/gqlgen/graphql"
)

func MarshalMoney(m models.Money) graphql.Marshaler {
	return graphql.WriterFunc(func(w io.Writer) {
		w.Write([]byte(strconv.Quote(m.String())))
	})
}

func UnmarshalMoney(i interface{}) (models.Money, error) {
	s, err := scalarString(i)
	if err != nil {
		return models.ZeroMoney, err
	}
	// Accept user-formatted amounts like "$1,250.00" or "- 3.5".
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" || s == "-" {
		return models.ZeroMoney, fmt.Errorf("invalid money value")
	}
	return models.ParseMoney(s)
}

func MarshalRate(r models.Rate) graphql.Marshaler {
	return graphql.WriterFunc(func(w io.Writer) {
		w.Write([]byte(strconv.Quote(r.String())))
	})
}

func UnmarshalRate(i interface{}) (models.Rate, error) {
	s, err := scalarString(i)
	if err != nil {
		return models.ZeroRate, err
	}
	if s == "" {
		return models.ZeroRate, fmt.Errorf("invalid rate value")
	}
	return models.ParseRate(s)
}

// scalarString reads number literals as their text so no float rounding happens before parsing.
func scalarString(i interface{}) (string, error) {
	switch v := i.(type) {
	case string:
		return strings.TrimSpace(v), nil
	case json.Number:
		return v.String(), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("invalid value")
	}
}
