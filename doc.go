// Package secretariat provides passwordless login for community members and
// the authorization rules that gate their mailbox lifecycle actions.
//
// Login tokens:
//   - TokenManager issues single-use, expiring LoginToken values and persists
//     them through a LoginTokenStore. A member may hold several live tokens at
//     once; redeeming one removes only that token.
//   - Redemption relies on the store's atomic conditional delete, so two
//     concurrent redemptions of the same token produce exactly one session.
//
// Sessions:
//   - SessionService signs a JWT carrying the member id. RouteAuthenticator
//     delivers it as an HttpOnly cookie and clears it on logout or when a
//     member deletes their own mailbox.
//
// Account actions:
//   - Policy is a set of pure decision functions over DirectoryRecord values.
//   - AccountActions runs each action: directory lookup, policy decision,
//     payload validation, best-effort notification and finally the mutation
//     through the collaborator interfaces declared in types.go.
package secretariat
