// Package auth provides the bearer-token boundary in front of the crew API.
//
// Session and credential verification for people happens elsewhere; this package only
// issues and validates API tokens and produces an AuthContext naming the acting user.
// Every permission question is then answered by package rbac from that user id.
//
// Tokens look like crew_<base64url(32 random bytes)>. Only the SHA-256 hash and a short
// display prefix are stored:
//
//	store := auth.NewTokenStore(db)
//	token, plaintext, err := store.CreateToken(ctx, userID, "ci", &expiry)
//	// hand plaintext to the user once
//
//	tok, err := store.ValidateToken(ctx, plaintext)
//	if errors.Is(err, auth.ErrInvalidToken) {
//		// 401
//	}
//
// Expired tokens are revoked in bulk by CleanupExpiredTokens, which cmd/crew runs on a
// cron schedule.
package auth
