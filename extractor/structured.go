package extractor

import (
	"bytes"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/tidwall/gjson"

	"github.com/aluiziolira/go-auction-ingest/models"
)

// DefaultJSONItemPaths are tried in order against JSON payloads.
var DefaultJSONItemPaths = []string{
	"response.body.items.item",
	"body.items.item",
	"items.item",
	"items",
	"data.list",
	"data",
	"result",
	"list",
}

// DefaultXMLItemPaths are tried in order against XML payloads.
var DefaultXMLItemPaths = []string{
	"//items/item",
	"//item",
	"//row",
	"//list",
}

// Structured rows carry no positional cells so column and keyword rules
// never fire on them; key rules and text regexes do.

// locateJSON returns one keyed row per item of the first path that yields
// items. A single object at an item path is treated as one item.
func locateJSON(content []byte, paths []string) (string, []Row) {
	if !gjson.ValidBytes(content) {
		return "", nil
	}
	root := gjson.ParseBytes(content)
	if root.IsArray() {
		if rows := jsonRows(root); len(rows) > 0 {
			return "json:@this", rows
		}
	}
	for _, path := range paths {
		res := root.Get(path)
		if !res.Exists() {
			continue
		}
		if rows := jsonRows(res); len(rows) > 0 {
			return "json:" + path, rows
		}
	}
	return "", nil
}

func jsonRows(res gjson.Result) []Row {
	var items []gjson.Result
	switch {
	case res.IsArray():
		items = res.Array()
	case res.IsObject():
		items = []gjson.Result{res}
	default:
		return nil
	}
	rows := make([]Row, 0, len(items))
	for _, item := range items {
		if !item.IsObject() {
			continue
		}
		keys := make(map[string]string)
		var values []string
		item.ForEach(func(k, v gjson.Result) bool {
			if v.IsObject() || v.IsArray() {
				return true
			}
			text := collapse(v.String())
			keys[strings.ToLower(k.String())] = text
			values = append(values, text)
			return true
		})
		if len(keys) == 0 {
			continue
		}
		rows = append(rows, Row{Keys: keys, Text: strings.Join(nonEmpty(values), " ")})
	}
	return rows
}

// locateXML returns one keyed row per element matched by the first XPath
// that yields elements with child values.
func locateXML(content []byte, paths []string) (string, []Row) {
	doc, err := xmlquery.Parse(bytes.NewReader(content))
	if err != nil {
		return "", nil
	}
	for _, path := range paths {
		nodes := xmlquery.Find(doc, path)
		if len(nodes) == 0 {
			continue
		}
		rows := make([]Row, 0, len(nodes))
		for _, n := range nodes {
			if row, ok := xmlRow(n); ok {
				rows = append(rows, row)
			}
		}
		if len(rows) > 0 {
			return "xml:" + path, rows
		}
	}
	return "", nil
}

func xmlRow(n *xmlquery.Node) (Row, bool) {
	keys := make(map[string]string)
	var values []string
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type != xmlquery.ElementNode {
			continue
		}
		text := collapse(child.InnerText())
		keys[strings.ToLower(child.Data)] = text
		values = append(values, text)
	}
	if len(keys) == 0 {
		return Row{}, false
	}
	return Row{Keys: keys, Text: strings.Join(nonEmpty(values), " ")}, true
}

// CountItems returns how many payload items a structured document holds
// under the first matching item path. Non-structured documents count zero.
func CountItems(doc *models.RawDocument, jsonPaths, xmlPaths []string) int {
	if doc == nil {
		return 0
	}
	var rows []Row
	switch doc.ContentType {
	case models.ContentJSON:
		_, rows = locateJSON(doc.Content, append(append([]string{}, jsonPaths...), DefaultJSONItemPaths...))
	case models.ContentXML:
		_, rows = locateXML(doc.Content, append(append([]string{}, xmlPaths...), DefaultXMLItemPaths...))
	}
	return len(rows)
}
