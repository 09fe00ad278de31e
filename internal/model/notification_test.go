package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationUnmarshalWireShape(t *testing.T) {
	raw := `{
		"notificationId": 42,
		"empId": 7,
		"title": "Leave approved",
		"message": "Your leave for May 3 was approved.",
		"type": "success",
		"isRead": false,
		"createdAt": "2024-05-01T10:15:30"
	}`

	var n Notification
	require.NoError(t, json.Unmarshal([]byte(raw), &n))

	assert.Equal(t, int64(42), n.ID)
	assert.Equal(t, int64(7), n.EmployeeID)
	assert.Equal(t, "Leave approved", n.Title)
	assert.Equal(t, "success", n.CategoryLabel())
	assert.False(t, n.Read)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 15, 30, 0, time.UTC), n.CreatedAt.Time)
}

func TestNotificationNullType(t *testing.T) {
	var n Notification
	require.NoError(t, json.Unmarshal([]byte(`{"notificationId":1,"type":null,"createdAt":null}`), &n))

	assert.Nil(t, n.Category)
	assert.Equal(t, "", n.CategoryLabel())
	assert.True(t, n.CreatedAt.IsZero())
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-05-01T10:15:30Z", time.Date(2024, 5, 1, 10, 15, 30, 0, time.UTC)},
		{"2024-05-01T10:15:30.123456", time.Date(2024, 5, 1, 10, 15, 30, 123456000, time.UTC)},
		{"2024-05-01T12:15:30+02:00", time.Date(2024, 5, 1, 10, 15, 30, 0, time.UTC)},
		{"2024-05-01 10:15:30", time.Date(2024, 5, 1, 10, 15, 30, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got.Time), "got %s", got.Time)
		})
	}

	_, err := ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestTimestampRejectsNonString(t *testing.T) {
	var ts Timestamp
	assert.Error(t, json.Unmarshal([]byte(`12345`), &ts))
}

func TestSendRequestOmitsEmptyType(t *testing.T) {
	data, err := json.Marshal(SendRequest{EmployeeID: 3, Title: "t", Message: "m"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"empId":3,"title":"t","message":"m"}`, string(data))

	warning := CategoryWarning
	data, err = json.Marshal(SendRequest{EmployeeID: 3, Title: "t", Message: "m", Category: &warning})
	require.NoError(t, err)
	assert.JSONEq(t, `{"empId":3,"title":"t","message":"m","type":"warning"}`, string(data))
}

func TestNotificationPageHasNext(t *testing.T) {
	assert.True(t, NotificationPage{CurrentPage: 0, TotalPages: 2}.HasNext())
	assert.False(t, NotificationPage{CurrentPage: 1, TotalPages: 2}.HasNext())
	assert.False(t, NotificationPage{}.HasNext())
}
