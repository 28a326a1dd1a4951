package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/erp/arledger/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bucketRequest struct {
	From    string `json:"from" binding:"required,datetime=2006-01-02"`
	Buckets []int  `json:"buckets" binding:"omitempty,ascending,dive,gt=0"`
}

func newValidationRouter() *gin.Engine {
	SetupValidator()

	router := gin.New()
	router.POST("/test", func(c *gin.Context) {
		var req bucketRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
	return router
}

func postJSON(router *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestValidation_Accepts(t *testing.T) {
	w := postJSON(newValidationRouter(), `{"from": "2024-01-31", "buckets": [30, 60, 90]}`)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestValidation_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		field   string
		message string
	}{
		{"missing date", `{}`, "from", "This field is required"},
		{"bad date", `{"from": "31/01/2024"}`, "from", "Must be a date formatted as 2006-01-02"},
		{"unsorted buckets", `{"from": "2024-01-31", "buckets": [60, 30]}`, "buckets", "Values must be strictly increasing"},
		{"zero bucket", `{"from": "2024-01-31", "buckets": [0, 30]}`, "buckets[0]", "Must be greater than 0"},
	}

	router := newValidationRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(router, tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)

			var resp dto.Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
			require.NotEmpty(t, resp.Error.Details)
			assert.Equal(t, tt.field, resp.Error.Details[0].Field)
			assert.Equal(t, tt.message, resp.Error.Details[0].Message)
		})
	}
}

func TestFormatValidationErrors_NonValidatorError(t *testing.T) {
	resp := FormatValidationErrors(assert.AnError, "req-1")
	require.NotNil(t, resp.Error)
	assert.Equal(t, "req-1", resp.Error.RequestID)
	assert.Empty(t, resp.Error.Details)
}
