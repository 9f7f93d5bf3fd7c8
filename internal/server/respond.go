// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// Modified for color-api: adapted to its routes, error taxonomy and logger.

package server

import (
	"bytes"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/color-api/internal/apperr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error   apperr.Kind `json:"error"`
	Message string      `json:"message"`
}

// RespondJSON encodes data before writing headers so a failed encode never
// produces a partial body.
func RespondJSON(w http.ResponseWriter, statusCode int, data any) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		logrus.WithError(err).Error("json encoding failed")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"InternalError","message":"internal server error"}` + "\n"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(buf.Bytes()); err != nil {
		logrus.WithError(err).Warn("response write failed")
	}
}

// WriteError renders err as an ErrorResponse. Only the kind and the
// caller-safe message are exposed; causes stay in the logs.
func WriteError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindMethodNotAllowed && w.Header().Get("Allow") == "" {
		w.Header().Set("Allow", "POST, OPTIONS")
	}
	RespondJSON(w, apperr.HTTPStatus(kind), ErrorResponse{
		Error:   kind,
		Message: apperr.MessageOf(err),
	})
}
