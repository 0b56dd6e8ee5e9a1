// Package session provides the credential session lifecycle shared by every
// session type.
//
// # Overview
//
// A Session is a named, typed handle on a set of cloud credentials and their
// activation status. The credential daemon performs the actual minting; this
// package keeps the local view consistent with it.
//
// # Core Concepts
//
// ## Services
//
// A Service implements the remote half of the lifecycle for one session Type
// (start, stop, create, update, delete, rotate and the credential
// operations). Services are registered in a Registry keyed by type tag.
//
// ## Store
//
// The Store is the single source of truth for session status. MemoryStore
// replaces whole entries on every mutation and serializes mutations per id.
// A Workspace persists the store between CLI runs.
//
// ## Manager
//
// The Manager owns the state machine:
//
//	stopped --start--> loading --ok--> active
//	                   loading --fail--> error
//	active  --stop---> stopped (error if the daemon call fails)
//
// Failures on existing sessions land in the session's status. Create and the
// parent step of a cascading Delete return their errors.
//
// # Usage
//
//	registry := session.NewRegistry().MustRegister(aws.NewIAMUserService(client))
//	mgr := session.NewManager(session.WithRegistry(registry))
//
//	sess, err := mgr.Create(ctx, &session.IAMUserCreateRequest{...})
//	if err != nil {
//	    return err
//	}
//	_ = mgr.Start(ctx, sess.ID)
//	current, _ := mgr.Get(sess.ID)
//	fmt.Println(current.Status)
package session
