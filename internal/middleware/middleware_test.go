package middleware

import (
	"context"
	"testing"
	"time"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/auth"
	"github.com/mmynk/splitledger/internal/models"
)

func TestActor(t *testing.T) {
	authed := WithUser(context.Background(), "alice", "alice@example.com")

	tests := []struct {
		name     string
		ctx      context.Context
		claimed  string
		want     string
		wantCode connect.Code
	}{
		{"auth disabled trusts claim", context.Background(), "bob", "bob", 0},
		{"auth disabled needs claim", context.Background(), "", "", connect.CodeInvalidArgument},
		{"same user", authed, "alice", "alice", 0},
		{"defaults to token user", authed, "", "alice", 0},
		{"other user", authed, "bob", "", connect.CodePermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Actor(tt.ctx, tt.claimed)
			if tt.wantCode != 0 {
				if connect.CodeOf(err) != tt.wantCode {
					t.Fatalf("Actor error = %v, want code %v", err, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("Actor failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Actor = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequireAuth(t *testing.T) {
	jwtManager := auth.NewJWTManager("secret", time.Hour)
	user := models.NewUser("alice@example.com", "Alice", "")
	token, err := jwtManager.Generate(user)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	var seen string
	handler := RequireAuth(jwtManager)(func(ctx context.Context, _ connect.AnyRequest) (connect.AnyResponse, error) {
		seen = GetUserID(ctx)
		return nil, nil
	})

	tests := []struct {
		name     string
		header   string
		wantCode connect.Code
	}{
		{"valid token", "Bearer " + token, 0},
		{"missing header", "", connect.CodeUnauthenticated},
		{"wrong scheme", "Basic " + token, connect.CodeUnauthenticated},
		{"bad token", "Bearer nope", connect.CodeUnauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := connect.NewRequest(&struct{}{})
			if tt.header != "" {
				req.Header().Set("Authorization", tt.header)
			}
			_, err := handler(context.Background(), req)
			if tt.wantCode != 0 {
				if connect.CodeOf(err) != tt.wantCode {
					t.Fatalf("error = %v, want code %v", err, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("handler failed: %v", err)
			}
			if seen != user.ID {
				t.Errorf("user in context = %q, want %q", seen, user.ID)
			}
		})
	}
}
