// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package keyspace

import (
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrWrongPass is returned by Authenticate on a bad password; the
// connection layer (conn.handleAuth) writes it as the -WRONGPASS RESP error.
var ErrWrongPass = errors.New("WRONGPASS invalid username-password pair or user is disabled")

// ErrNoSuchUser is returned by ACLUserInfo (ACL GETUSER) for an unknown name.
var ErrNoSuchUser = errors.New("ERR no such user")

// aclUser is one ACL entry: a username, its bcrypt password hash, the
// "nopass" flag (when set, Authenticate accepts any password), and whether
// the account is enabled.
type aclUser struct {
	name      string
	hash      []byte
	noPass    bool
	enabled   bool
}

type aclTable struct {
	mu    sync.RWMutex
	users map[string]*aclUser
}

func newACLTable() *aclTable {
	return &aclTable{users: map[string]*aclUser{
		"default": {name: "default", noPass: true, enabled: true},
	}}
}

// SeedRequirePass configures the default user's password the way
// --requirepass does at startup, switching it off of "nopass".
func (s *Store) SeedRequirePass(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	s.acl.mu.Lock()
	defer s.acl.mu.Unlock()
	s.acl.users["default"] = &aclUser{name: "default", hash: hash, enabled: true}
	return nil
}

// RequiresAuth reports whether the default user demands a password.
func (s *Store) RequiresAuth() bool {
	s.acl.mu.RLock()
	defer s.acl.mu.RUnlock()
	u := s.acl.users["default"]
	return u == nil || !u.noPass
}

// Authenticate validates username/password against the ACL table.
func (s *Store) Authenticate(username, password string) error {
	s.acl.mu.RLock()
	u, ok := s.acl.users[username]
	s.acl.mu.RUnlock()
	if !ok || !u.enabled {
		return ErrWrongPass
	}
	if u.noPass {
		return nil
	}
	if bcrypt.CompareHashAndPassword(u.hash, []byte(password)) != nil {
		return ErrWrongPass
	}
	return nil
}

// ACLSetUser creates or updates a user. noPass takes precedence over
// password: when set, the stored hash is cleared and any password is
// accepted, mirroring ACL SETUSER name nopass.
func (s *Store) ACLSetUser(username, password string, noPass, enabled bool) error {
	if noPass {
		s.acl.mu.Lock()
		defer s.acl.mu.Unlock()
		s.acl.users[username] = &aclUser{name: username, noPass: true, enabled: enabled}
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	s.acl.mu.Lock()
	defer s.acl.mu.Unlock()
	s.acl.users[username] = &aclUser{name: username, hash: hash, enabled: enabled}
	return nil
}

// ACLUserNames lists every known user, "default" first.
func (s *Store) ACLUserNames() []string {
	s.acl.mu.RLock()
	defer s.acl.mu.RUnlock()
	out := make([]string, 0, len(s.acl.users))
	if _, ok := s.acl.users["default"]; ok {
		out = append(out, "default")
	}
	for name := range s.acl.users {
		if name != "default" {
			out = append(out, name)
		}
	}
	return out
}

// ACLUserInfo reports the flags ACL GETUSER needs: on/off and nopass.
func (s *Store) ACLUserInfo(username string) (enabled, noPass bool, err error) {
	s.acl.mu.RLock()
	defer s.acl.mu.RUnlock()
	u, ok := s.acl.users[username]
	if !ok {
		return false, false, ErrNoSuchUser
	}
	return u.enabled, u.noPass, nil
}
