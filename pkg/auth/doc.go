// Package auth authenticates hrcore users.
//
// Users log in with a username and password (bcrypt hashes) and receive a
// bearer token of the form hrc_<base64url(32 random bytes)>. Only the
// SHA256 of a token is stored; its first characters (hrc_ plus 8) are kept
// in clear as the session key that audit entries refer to.
//
//	svc := auth.NewService(auth.NewSQLStore(db), 12*time.Hour, log)
//	user, issued, err := svc.Login(ctx, "awa", "s3cret")
//	user, token, err := svc.Authenticate(ctx, issued.Token)
//
// Login and logout are audited as LOGIN, LOGIN_FAILED and LOGOUT.
//
// SQLStore also implements rbac.UserLookup for the permission
// administration endpoints.
package auth
