package utils

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/Velocidex/ordereddict"
)

// Returns the containing dict for a nested dict. This allows fetching
// a key using dot notation.
func _get(dict *ordereddict.Dict, key string) (*ordereddict.Dict, string) {
	components := strings.Split(key, ".")
	if len(components) == 1 {
		return dict, components[0]
	}

	// Walk all but the last component. Anything missing or not a
	// dict gives an empty containing dict.
	for i := 0; i < len(components)-1; i++ {
		member := components[i]
		result, pres := dict.Get(member)
		if !pres || result == nil {
			return ordereddict.NewDict(), ""
		}

		// A slice may be indexed by the next component.
		if reflect.TypeOf(result).Kind() == reflect.Slice {
			a_value := reflect.ValueOf(result)

			next_member := components[i+1]
			index, err := strconv.Atoi(next_member)
			if err == nil {
				if index < 0 || index >= a_value.Len() {
					return ordereddict.NewDict(), ""
				}

				dict = ordereddict.NewDict().
					Set(next_member, a_value.Index(index).Interface())
				continue
			}
		}

		nested, ok := result.(*ordereddict.Dict)
		if !ok || nested == nil {
			return ordereddict.NewDict(), ""
		}
		dict = nested
	}

	return dict, components[len(components)-1]
}

func GetString(dict *ordereddict.Dict, key string) string {
	subdict, last := _get(dict, key)
	res, _ := subdict.GetString(last)
	return res
}

func GetInt64(dict *ordereddict.Dict, key string) int64 {
	subdict, last := _get(dict, key)
	res, pres := subdict.GetInt64(last)
	if !pres {
		res_str, pres := subdict.GetString(last)
		if pres {
			res, _ = strconv.ParseInt(res_str, 0, 64)
		}
	}
	return res
}

func GetAny(dict *ordereddict.Dict, key string) interface{} {
	subdict, last := _get(dict, key)
	res, _ := subdict.Get(last)
	return res
}
