package dispatch

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// xmlrpcTimeLayout is the dateTime.iso8601 shape XML-RPC uses on the wire.
const xmlrpcTimeLayout = "20060102T15:04:05"

// xmlMethodCall mirrors one <methodCall> document.
type xmlMethodCall struct {
	XMLName    xml.Name   `xml:"methodCall"`
	MethodName string     `xml:"methodName"`
	Params     []xmlValue `xml:"params>param>value"`
}

// xmlValue mirrors one <value> element. Scalar tags are pointers so an
// empty element is distinguishable from an absent one; an untagged value
// falls through to its character data, which the protocol reads as a
// string.
type xmlValue struct {
	Int      *string    `xml:"int"`
	I4       *string    `xml:"i4"`
	Boolean  *string    `xml:"boolean"`
	String   *string    `xml:"string"`
	Double   *string    `xml:"double"`
	DateTime *string    `xml:"dateTime.iso8601"`
	Base64   *string    `xml:"base64"`
	Struct   *xmlStruct `xml:"struct"`
	Array    *xmlArray  `xml:"array"`
	Nil      *xmlEmpty  `xml:"nil"`
	Raw      string     `xml:",chardata"`
}

type xmlEmpty struct{}

type xmlStruct struct {
	Members []xmlMember `xml:"member"`
}

type xmlMember struct {
	Name  string   `xml:"name"`
	Value xmlValue `xml:"value"`
}

type xmlArray struct {
	Values []xmlValue `xml:"data>value"`
}

// decode converts a parsed <value> tree into its native Go value.
func (v xmlValue) decode() (any, error) {
	switch {
	case v.Nil != nil:
		return nil, nil
	case v.Int != nil:
		return decodeXMLInt(*v.Int)
	case v.I4 != nil:
		return decodeXMLInt(*v.I4)
	case v.Boolean != nil:
		switch strings.TrimSpace(*v.Boolean) {
		case "1", "true":
			return true, nil
		case "0", "false":
			return false, nil
		default:
			return nil, fmt.Errorf("bad boolean value %q", strings.TrimSpace(*v.Boolean))
		}
	case v.Double != nil:
		f, err := strconv.ParseFloat(strings.TrimSpace(*v.Double), 64)
		if err != nil {
			return nil, fmt.Errorf("bad double value %q", strings.TrimSpace(*v.Double))
		}
		return f, nil
	case v.DateTime != nil:
		s := strings.TrimSpace(*v.DateTime)
		t, err := time.Parse(xmlrpcTimeLayout, s)
		if err != nil {
			t, err = time.Parse("2006-01-02T15:04:05", s)
		}
		if err != nil {
			return nil, fmt.Errorf("bad dateTime.iso8601 value %q", s)
		}
		return t, nil
	case v.Base64 != nil:
		condensed := strings.Map(dropSpace, *v.Base64)
		b, err := base64.StdEncoding.DecodeString(condensed)
		if err != nil {
			return nil, fmt.Errorf("bad base64 value: %v", err)
		}
		return b, nil
	case v.Struct != nil:
		m := make(map[string]any, len(v.Struct.Members))
		for _, member := range v.Struct.Members {
			val, err := member.Value.decode()
			if err != nil {
				return nil, fmt.Errorf("struct member %q: %v", member.Name, err)
			}
			m[member.Name] = val
		}
		return m, nil
	case v.Array != nil:
		list := make([]any, 0, len(v.Array.Values))
		for i, item := range v.Array.Values {
			val, err := item.decode()
			if err != nil {
				return nil, fmt.Errorf("array element %d: %v", i, err)
			}
			list = append(list, val)
		}
		return list, nil
	case v.String != nil:
		return *v.String, nil
	default:
		return v.Raw, nil
	}
}

func decodeXMLInt(s string) (any, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("bad int value %q", strings.TrimSpace(s))
	}
	return n, nil
}

func dropSpace(r rune) rune {
	switch r {
	case ' ', '\t', '\n', '\r':
		return -1
	}
	return r
}

// encodeXMLValue renders one Go value as a <value> tree. Member names of
// structs follow their json tags so both wire protocols publish the same
// field names.
func encodeXMLValue(buf *bytes.Buffer, v any) error {
	if v == nil {
		buf.WriteString("<value><nil/></value>")
		return nil
	}
	switch tv := v.(type) {
	case time.Time:
		buf.WriteString("<value><dateTime.iso8601>")
		buf.WriteString(tv.Format(xmlrpcTimeLayout))
		buf.WriteString("</dateTime.iso8601></value>")
		return nil
	case []byte:
		buf.WriteString("<value><base64>")
		buf.WriteString(base64.StdEncoding.EncodeToString(tv))
		buf.WriteString("</base64></value>")
		return nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			buf.WriteString("<value><boolean>1</boolean></value>")
		} else {
			buf.WriteString("<value><boolean>0</boolean></value>")
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		fmt.Fprintf(buf, "<value><int>%d</int></value>", rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		fmt.Fprintf(buf, "<value><int>%d</int></value>", rv.Uint())
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("double value %v is not representable", f)
		}
		buf.WriteString("<value><double>")
		buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
		buf.WriteString("</double></value>")
	case reflect.String:
		buf.WriteString("<value><string>")
		if err := xml.EscapeText(buf, []byte(rv.String())); err != nil {
			return err
		}
		buf.WriteString("</string></value>")
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			buf.WriteString("<value><base64>")
			buf.WriteString(base64.StdEncoding.EncodeToString(rv.Bytes()))
			buf.WriteString("</base64></value>")
			return nil
		}
		buf.WriteString("<value><array><data>")
		for i := 0; i < rv.Len(); i++ {
			if err := encodeXMLValue(buf, rv.Index(i).Interface()); err != nil {
				return err
			}
		}
		buf.WriteString("</data></array></value>")
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("map key type %s is not representable", rv.Type().Key())
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		buf.WriteString("<value><struct>")
		for _, k := range keys {
			if err := encodeXMLMember(buf, k, rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface()); err != nil {
				return err
			}
		}
		buf.WriteString("</struct></value>")
	case reflect.Struct:
		buf.WriteString("<value><struct>")
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath != "" {
				continue
			}
			name := f.Name
			if tag, ok := f.Tag.Lookup("json"); ok {
				tagName, _, _ := strings.Cut(tag, ",")
				if tagName == "-" {
					continue
				}
				if tagName != "" {
					name = tagName
				}
			}
			if err := encodeXMLMember(buf, name, rv.Field(i).Interface()); err != nil {
				return err
			}
		}
		buf.WriteString("</struct></value>")
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			buf.WriteString("<value><nil/></value>")
			return nil
		}
		return encodeXMLValue(buf, rv.Elem().Interface())
	default:
		return fmt.Errorf("value of type %T is not representable", v)
	}
	return nil
}

func encodeXMLMember(buf *bytes.Buffer, name string, v any) error {
	buf.WriteString("<member><name>")
	if err := xml.EscapeText(buf, []byte(name)); err != nil {
		return err
	}
	buf.WriteString("</name>")
	if err := encodeXMLValue(buf, v); err != nil {
		return err
	}
	buf.WriteString("</member>")
	return nil
}
