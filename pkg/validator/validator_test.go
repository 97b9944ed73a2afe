package validator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type registerPayload struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

func TestValidateStructPasses(t *testing.T) {
	err := ValidateStruct(&registerPayload{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "correct horse",
	})
	require.NoError(t, err)
}

func TestValidateStructReportsJSONFieldNames(t *testing.T) {
	err := ValidateStruct(&registerPayload{
		Username: "al",
		Email:    "not-an-email",
	})
	require.Error(t, err)

	failures, ok := err.(ValidationErrors)
	require.True(t, ok)
	require.Len(t, failures, 3)

	fields := map[string]string{}
	for _, f := range failures {
		fields[f.Field] = f.Tag
	}
	require.Equal(t, "min", fields["username"])
	require.Equal(t, "email", fields["email"])
	require.Equal(t, "required", fields["password"])
}
