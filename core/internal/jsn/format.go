// Package jsn reconstructs nested record graphs from the flat rows a driver
// hands back, using the shape metadata captured at compile time.
package jsn

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/ronin-co/compiler/core/internal/psql"
	"github.com/ronin-co/compiler/core/internal/qcode"
	"github.com/ronin-co/compiler/core/internal/sdata"
)

// Result is the formatted outcome of one query.
type Result struct {
	Record      map[string]interface{}   `json:"record,omitempty"`
	Records     []map[string]interface{} `json:"records,omitempty"`
	Amount      *int64                   `json:"amount,omitempty"`
	Model       map[string]interface{}   `json:"model,omitempty"`
	Models      map[string]*Result       `json:"models,omitempty"`
	ModelFields map[string]string        `json:"modelFields,omitempty"`
	MoreBefore  string                   `json:"moreBefore,omitempty"`
	MoreAfter   string                   `json:"moreAfter,omitempty"`
}

// Format maps raw result sets 1:1 with the statements each shape produced,
// grouping a meta query's statement pair back into a single result. It never
// fails on missing columns; absent values surface as nulls.
func Format(shapes []*psql.Shape, raw [][]map[string]interface{}) ([]Result, error) {
	results := make([]Result, 0, len(shapes))
	idx := 0

	for _, shape := range shapes {
		n := shape.Statements
		if n == 0 {
			n = 1
		}
		if idx+n > len(raw) {
			return nil, sdata.NewError(sdata.ErrInvalidModelValue,
				"raw results cover %d statements, need %d", len(raw), idx+n)
		}

		if shape.Meta {
			results = append(results, Result{Model: shape.ModelEcho})
			idx += n
			continue
		}

		rows := raw[idx]
		idx += n
		results = append(results, formatOne(shape, rows))
	}

	return results, nil
}

func formatOne(shape *psql.Shape, rows []map[string]interface{}) Result {
	if shape.Query != nil && shape.Query.Type == qcode.QueryCount {
		return formatCount(rows)
	}

	res := Result{ModelFields: modelFields(shape.Model)}
	records := buildRecords(shape, rows)

	// One extra row signals another page; strip it and emit cursors.
	if shape.Limit > 0 && len(records) > shape.Limit {
		records = records[:shape.Limit]
		cursor := recordCursor(records[len(records)-1], shape.OrderBy)
		if shape.HasBefore {
			res.MoreBefore = cursor
		} else {
			res.MoreAfter = cursor
		}
	}
	if shape.HasAfter && len(records) > 0 {
		res.MoreBefore = recordCursor(records[0], shape.OrderBy)
	}
	if shape.HasBefore && len(records) > 0 {
		res.MoreAfter = recordCursor(records[len(records)-1], shape.OrderBy)
	}

	if shape.Single {
		if len(records) > 0 {
			res.Record = records[0]
		}
		return res
	}
	res.Records = records
	if res.Records == nil {
		res.Records = []map[string]interface{}{}
	}
	return res
}

func formatCount(rows []map[string]interface{}) Result {
	var amount int64
	if len(rows) > 0 {
		switch v := rows[0]["amount"].(type) {
		case int64:
			amount = v
		case int:
			amount = int64(v)
		case float64:
			amount = int64(v)
		}
	}
	return Result{Amount: &amount}
}

func modelFields(m *sdata.Model) map[string]string {
	if m == nil {
		return nil
	}
	out := map[string]string{}
	for i := range m.Fields {
		f := &m.Fields[i]
		if f.Type == sdata.TypeGroup {
			continue
		}
		out[f.Slug] = f.Type
	}
	return out
}

// buildRecords nests each row and groups consecutive rows sharing a root id
// into one record, merging plural-mounted sides into arrays.
func buildRecords(shape *psql.Shape, rows []map[string]interface{}) []map[string]interface{} {
	var records []map[string]interface{}
	var lastID interface{}

	pluralMounts := false
	for _, m := range shape.Mounts {
		if m.Plural {
			pluralMounts = true
		}
	}

	for _, row := range rows {
		rec := buildRecord(shape, row)
		id := rec["id"]

		if pluralMounts && id != nil && id == lastID && len(records) > 0 {
			mergePluralMounts(records[len(records)-1], rec, shape)
			continue
		}
		records = append(records, rec)
		lastID = id
	}
	return records
}

func buildRecord(shape *psql.Shape, row map[string]interface{}) map[string]interface{} {
	rec := map[string]interface{}{}

	cols := make([]string, 0, len(row))
	for k := range row {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	for _, col := range cols {
		setPath(rec, col, coerceColumn(shape, col, row[col]))
	}

	// A joined side whose every column came back NULL is an empty array,
	// not an array of one all-null record.
	for _, m := range shape.Mounts {
		if !m.Plural {
			continue
		}
		key := mountKey(m.Path)
		if arr, ok := rec[key].([]interface{}); ok && len(arr) == 1 {
			if el, ok := arr[0].(map[string]interface{}); ok && allNull(el) {
				rec[key] = []interface{}{}
			}
		}
	}

	return rec
}

func mountKey(path string) string {
	if i := strings.IndexByte(path, '['); i >= 0 {
		return path[:i]
	}
	return path
}

func allNull(m map[string]interface{}) bool {
	for _, v := range m {
		if nested, ok := v.(map[string]interface{}); ok {
			if !allNull(nested) {
				return false
			}
			continue
		}
		if v != nil {
			return false
		}
	}
	return true
}

func mergePluralMounts(dst, src map[string]interface{}, shape *psql.Shape) {
	for _, m := range shape.Mounts {
		if !m.Plural {
			continue
		}
		key := mountKey(m.Path)
		srcArr, ok := src[key].([]interface{})
		if !ok || len(srcArr) == 0 {
			continue
		}
		el, ok := srcArr[0].(map[string]interface{})
		if ok && allNull(el) {
			continue
		}
		dstArr, _ := dst[key].([]interface{})
		dst[key] = append(dstArr, srcArr...)
	}
}

// coerceColumn converts a stored value back into its record form using the
// owning model's field table: 0/1 integers become booleans, JSON text is
// parsed, a NULL lock flag collapses to false.
func coerceColumn(shape *psql.Shape, col string, v interface{}) interface{} {
	model := shape.Model
	fieldPath := col

	for _, m := range shape.Mounts {
		prefix := m.Path + "."
		if m.Path != "" && strings.HasPrefix(col, prefix) {
			model = m.Model
			fieldPath = col[len(prefix):]
			break
		}
	}

	if model == nil {
		return v
	}
	f := model.Field(fieldPath)
	if f == nil {
		return v
	}

	switch f.Type {
	case sdata.TypeBoolean:
		switch n := v.(type) {
		case nil:
			if fieldPath == "ronin.locked" {
				return false
			}
			return nil
		case bool:
			return n
		case int64:
			return n != 0
		case int:
			return n != 0
		case float64:
			return n != 0
		}
	case sdata.TypeJSON:
		switch s := v.(type) {
		case string:
			var parsed interface{}
			if err := json.Unmarshal([]byte(s), &parsed); err == nil {
				return parsed
			}
		case []byte:
			var parsed interface{}
			if err := json.Unmarshal(s, &parsed); err == nil {
				return parsed
			}
		}
	}
	return v
}

type pathSeg struct {
	key   string
	index int
}

func parsePath(path string) []pathSeg {
	var segs []pathSeg
	for _, part := range strings.Split(path, ".") {
		idx := -1
		key := part
		if i := strings.IndexByte(part, '['); i >= 0 && strings.HasSuffix(part, "]") {
			if n, err := strconv.Atoi(part[i+1 : len(part)-1]); err == nil {
				idx = n
				key = part[:i]
			}
		}
		segs = append(segs, pathSeg{key: key, index: idx})
	}
	return segs
}

// setPath writes a value at a dotted, possibly array-indexed path, creating
// intermediate objects and arrays as needed.
func setPath(rec map[string]interface{}, path string, v interface{}) {
	segs := parsePath(path)
	node := rec

	for i, seg := range segs {
		last := i == len(segs)-1

		if seg.index < 0 {
			if last {
				node[seg.key] = v
				return
			}
			child, ok := node[seg.key].(map[string]interface{})
			if !ok {
				child = map[string]interface{}{}
				node[seg.key] = child
			}
			node = child
			continue
		}

		arr, _ := node[seg.key].([]interface{})
		for len(arr) <= seg.index {
			arr = append(arr, map[string]interface{}{})
		}
		node[seg.key] = arr
		if last {
			arr[seg.index] = v
			return
		}
		child, ok := arr[seg.index].(map[string]interface{})
		if !ok {
			child = map[string]interface{}{}
			arr[seg.index] = child
		}
		node = child
	}
}

func getAtPath(rec map[string]interface{}, path string) interface{} {
	node := interface{}(rec)
	for _, seg := range parsePath(path) {
		m, ok := node.(map[string]interface{})
		if !ok {
			return nil
		}
		node = m[seg.key]
		if seg.index >= 0 {
			arr, ok := node.([]interface{})
			if !ok || seg.index >= len(arr) {
				return nil
			}
			node = arr[seg.index]
		}
	}
	return node
}

func recordCursor(rec map[string]interface{}, order []psql.OrderCol) string {
	if len(order) == 0 {
		return ""
	}
	vals := make([]string, 0, len(order))
	for _, col := range order {
		vals = append(vals, qcode.EncodeCursorValue(getAtPath(rec, col.Path), col.Type))
	}
	return qcode.EncodeCursor(vals)
}
