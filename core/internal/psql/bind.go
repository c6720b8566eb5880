package psql

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// renderValue normalizes a value and appends it to the parameter list,
// writing the ?N placeholder. NULL is inlined unless bindNull is set,
// booleans are stored as 0/1 integers, and arrays or plain objects are
// serialized to JSON text (encoding/json sorts object keys, so serialization
// is deterministic).
//
// In inline mode the value is written as a SQL literal instead; that mode
// exists for statements in which parameters are disallowed.
func (c *compilerContext) renderValue(v interface{}, bindNull bool) {
	if v == nil && !bindNull {
		c.w.WriteString(`NULL`)
		return
	}

	switch val := v.(type) {
	case bool:
		n := 0
		if val {
			n = 1
		}
		c.renderParam(n)
	case map[string]interface{}, []interface{}:
		buf, err := json.Marshal(val)
		if err != nil {
			c.setErr(err)
			return
		}
		c.renderParam(string(buf))
	default:
		c.renderParam(v)
	}
}

// renderParam appends one parameter and writes its placeholder, or the
// literal in inline mode.
func (c *compilerContext) renderParam(v interface{}) {
	if c.conf.InlineParams {
		c.renderLiteral(v)
		return
	}
	c.params = append(c.params, v)
	c.w.WriteByte('?')
	c.w.WriteString(itoa(len(c.params)))
}

func (c *compilerContext) renderLiteral(v interface{}) {
	switch val := v.(type) {
	case nil:
		c.w.WriteString(`NULL`)
	case string:
		c.squoted(strings.ReplaceAll(val, `'`, `''`))
	case bool:
		if val {
			c.w.WriteString(`1`)
		} else {
			c.w.WriteString(`0`)
		}
	case int:
		c.w.WriteString(strconv.Itoa(val))
	case int64:
		c.w.WriteString(strconv.FormatInt(val, 10))
	case float64:
		c.w.WriteString(strconv.FormatFloat(val, 'f', -1, 64))
	default:
		c.w.WriteString(fmt.Sprintf(`%v`, val))
	}
}
