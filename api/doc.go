// Package api exposes a goSession Engine over HTTP.
//
// Routes:
//
//	POST /session          {"userId": "..."}
//	POST /session/refresh  {"refreshToken": "..."}
//	POST /session/remove   {"sessionHandles": [...]} or {"userId": "..."}
//	GET  /session?sessionHandle=...
//
// Every token or session verdict is reported with HTTP 200 and a status field
// of OK, UNAUTHORISED or TOKEN_THEFT_DETECTED. Malformed requests get 400,
// throttled refreshes 429, and backend failures 500.
//
// The response shape is selected by the cdi-version request header. Version
// 1.0 omits sameSite on every token and the cookie attributes of the
// id-refresh token; 2.0 is the default. Cookie attributes are taken from a
// [CookiePolicy], never from the engine.
package api
