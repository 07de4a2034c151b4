// Package auth authenticates chat server requests.
//
// Users present an HS256 JWT whose "sub" claim is their user id. Tokens are
// minted with the configured jwt_secret by the chat-devserver token command.
//
// HTTPMiddleware accepts the token from the Authorization header:
//
//	Authorization: Bearer <token>
//
// or, for WebSocket upgrades from browsers that cannot set headers, from a
// "token" query parameter. The resolved user is attached to the request
// context and read back with UserFromContext.
package auth
