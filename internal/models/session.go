package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// RoleGuardian is the only role the local API issues tokens for.
const RoleGuardian = "guardian"

// Claims defines the structure of the guardian session token.
// The registered ID doubles as the session handle for the unlocked key.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}
