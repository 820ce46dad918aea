// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding/decoding, and request parsing.
//
// Response helpers:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteForbidden(w, "forbidden")
//
// Request parsing:
//
//	var req CreateGroupRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // error response already written
//	}
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//
// Middleware:
//
//	router.Use(httputil.RequestIDMiddleware, httputil.RecoveryMiddleware(log))
package httputil
