package sendform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/hrnotify/internal/model"
)

func TestRequest(t *testing.T) {
	req, err := Request(" 42 ", "  Payslip ready ", " March payslip ", string(model.CategorySuccess))
	require.NoError(t, err)
	assert.Equal(t, int64(42), req.EmployeeID)
	assert.Equal(t, "Payslip ready", req.Title)
	assert.Equal(t, "March payslip", req.Message)
	require.NotNil(t, req.Category)
	assert.Equal(t, model.CategorySuccess, *req.Category)

	req, err = Request("7", "t", "m", "")
	require.NoError(t, err)
	assert.Nil(t, req.Category)
}

func TestRequest_RejectsBadEmployeeID(t *testing.T) {
	for _, id := range []string{"", "abc", "0", "-3"} {
		_, err := Request(id, "t", "m", "")
		assert.Error(t, err, id)
	}
}

func TestValidateRequired(t *testing.T) {
	v := validateRequired("Title")
	assert.EqualError(t, v("  "), "Title is required")
	assert.NoError(t, v("x"))
}
