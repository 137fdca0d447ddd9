package tools

import (
	"reflect"
	"regexp"
	"strconv"
	"time"

	"github.com/modern-go/reflect2"
)

var durationType = reflect.TypeOf(time.Duration(0))

// DoTagFunc 对结构体指针的每个字段执行fn
func DoTagFunc(v interface{}, fn []func(reflect.StructField, reflect.Value)) {
	if reflect2.IsNil(v) {
		return
	}

	vType1 := reflect2.TypeOf(v).Type1()
	if vType1.Kind() != reflect.Ptr || vType1.Elem().Kind() != reflect.Struct {
		return
	}

	indirect := reflect.Indirect(reflect.ValueOf(v))
	for i := 0; i < indirect.NumField(); i++ {
		field := indirect.Field(i)
		fieldStruct := vType1.Elem().Field(i)

		for _, f := range fn {
			f(fieldStruct, field)
		}
	}
}

// SetDefaultValueIfNil 字段为零值时使用default tag中的值
func SetDefaultValueIfNil(structField reflect.StructField, vValue reflect.Value) {
	if !vValue.CanSet() {
		return
	}
	structTag := structField.Tag
	if !containTag(structTag, "default") && vValue.Kind() != reflect.Struct && vValue.Kind() != reflect.Ptr {
		return
	}
	def := structTag.Get("default")

	if vValue.Type() == durationType {
		if vValue.Int() == 0 && def != "" {
			d, _ := time.ParseDuration(def)
			vValue.SetInt(int64(d))
		}
		return
	}

	switch vValue.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if vValue.Int() == 0 {
			v, _ := strconv.ParseInt(def, 10, 64)
			vValue.SetInt(v)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if vValue.Uint() == 0 {
			v, _ := strconv.ParseUint(def, 10, 64)
			vValue.SetUint(v)
		}
	case reflect.String:
		if vValue.String() == "" {
			vValue.SetString(def)
		}
	case reflect.Float32, reflect.Float64:
		if vValue.Float() == 0 {
			v, _ := strconv.ParseFloat(def, 64)
			vValue.SetFloat(v)
		}
	case reflect.Struct:
		t := structField.Type
		for i := 0; i < t.NumField(); i++ {
			SetDefaultValueIfNil(t.Field(i), vValue.Field(i))
		}
	case reflect.Ptr:
		if vValue.IsNil() || vValue.Elem().Kind() != reflect.Struct {
			return
		}
		elem := vValue.Elem()
		for i := 0; i < elem.NumField(); i++ {
			SetDefaultValueIfNil(elem.Type().Field(i), elem.Field(i))
		}
	default:
	}
}

func containTag(tag reflect.StructTag, tagName string) bool {
	return regexp.MustCompile(`\b` + tagName + `\b`).Match([]byte(tag))
}
