// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"
	"github.com/samber/oops"
)

// MaxBodyBytes bounds request bodies accepted by the API.
const MaxBodyBytes int64 = 1 << 20

// Error codes for malformed requests.
const (
	CodeInvalidBody      = "API_INVALID_BODY"
	CodeValidationFailed = "API_VALIDATION_FAILED"
	CodeUnauthorized     = "API_UNAUTHORIZED"
	CodeInvalidParam     = "API_INVALID_PARAM"
)

type binder struct {
	validate   *validator.Validate
	translator ut.Translator
}

var (
	binderOnce sync.Once
	sharedBind *binder
)

func getBinder() *binder {
	binderOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		// Report fields by their JSON names.
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})

		english := en.New()
		trans, _ := ut.New(english, english).GetTranslator("en")
		if err := entranslations.RegisterDefaultTranslations(v, trans); err != nil {
			panic(err)
		}
		sharedBind = &binder{validate: v, translator: trans}
	})
	return sharedBind
}

// decodeJSON reads a single JSON object into T and validates it.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request) (T, error) {
	var dst T

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&dst); err != nil {
		if errors.Is(err, io.EOF) {
			return dst, oops.Code(CodeInvalidBody).Errorf("request body is empty")
		}
		return dst, oops.Code(CodeInvalidBody).Errorf("invalid JSON: %v", err)
	}
	if dec.More() {
		return dst, oops.Code(CodeInvalidBody).Errorf("unexpected trailing data")
	}

	if err := getBinder().validate.Struct(dst); err != nil {
		field, msg := validationMessage(err)
		return dst, oops.Code(CodeValidationFailed).With("field", field).Errorf("%s", msg)
	}
	return dst, nil
}

// validationMessage returns the first failing field and its translated message.
func validationMessage(err error) (field, message string) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return verrs[0].Field(), verrs[0].Translate(getBinder().translator)
	}
	return "", err.Error()
}
