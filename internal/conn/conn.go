// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package conn drives one client socket: decoding frames off the wire,
// tracking MULTI/EXEC queuing and SUBSCRIBE mode, and handing validated
// commands to the dispatcher.
package conn

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/cc-kv/cc-kvstore/internal/command"
	"github.com/cc-kv/cc-kvstore/internal/dispatch"
	"github.com/cc-kv/cc-kvstore/internal/keyspace"
	"github.com/cc-kv/cc-kvstore/internal/metrics"
	"github.com/cc-kv/cc-kvstore/internal/replication"
	"github.com/cc-kv/cc-kvstore/internal/resp"
	cclog "github.com/cc-kv/cc-kvstore/log"
)

// mode is the per-connection state the server enforces command
// restrictions against.
type mode int

const (
	modeNormal mode = iota
	modeTxn
	modeSubscribed
	modeReplica
)

// subscribeOnlyAllowed is the command whitelist enforced while a
// connection has at least one channel or pattern subscription.
var subscribeOnlyAllowed = map[command.Kind]bool{
	command.Subscribe: true, command.Unsubscribe: true,
	command.PSubscribe: true, command.PUnsubscribe: true,
	command.Ping: true, command.Quit: true,
}

// Conn owns one client socket's lifetime.
type Conn struct {
	nc    net.Conn
	br    *bufio.Reader
	dec   *resp.Decoder
	dsp   *dispatch.Dispatcher
	store *keyspace.Store

	mode mode

	authenticated bool
	username      string
	authLimiter   *rate.Limiter

	txnQueue []command.Command

	subID    uint64
	subChans map[string]bool
	subPats  map[string]bool
	pubsubCh chan keyspace.PublishedMessage

	replDesc *keyspace.ReplicaDescriptor
}

// New wraps an accepted socket for the read-dispatch-reply loop.
func New(nc net.Conn, store *keyspace.Store, dsp *dispatch.Dispatcher) *Conn {
	return &Conn{
		nc:          nc,
		br:          bufio.NewReader(nc),
		dec:         resp.NewDecoder(),
		dsp:         dsp,
		store:       store,
		authLimiter: rate.NewLimiter(rate.Every(time.Second), 3),
		subChans:    make(map[string]bool),
		subPats:     make(map[string]bool),
	}
}

// Serve runs the connection's read loop until the client disconnects or
// an unrecoverable protocol error occurs.
func (c *Conn) Serve(ctx context.Context) {
	defer c.close()
	metrics.ConnectedClients.Inc()
	defer metrics.ConnectedClients.Dec()

	readBuf := make([]byte, 4096)
	for {
		v, err := c.dec.Decode()
		if err == resp.ErrNeedMore {
			n, rerr := c.br.Read(readBuf)
			if n > 0 {
				c.dec.Feed(readBuf[:n])
			}
			if rerr != nil {
				return
			}
			continue
		}
		if err != nil {
			c.writeValue(resp.Err("ERR Protocol error"))
			return
		}

		if v.Kind != resp.Array || v.Null {
			c.writeValue(resp.Err("ERR Protocol error: expected array"))
			continue
		}
		parts := make([][]byte, len(v.Items))
		for i, item := range v.Items {
			parts[i] = append([]byte(nil), item.Str...)
		}

		cmd, derr := command.Decode(parts)
		if derr != nil {
			c.writeValue(resp.Err(derr.Error()))
			continue
		}

		if cmd.Kind == command.PSync {
			c.handlePSync(ctx)
			continue
		}

		reply := c.handle(ctx, cmd, resp.Bytes(v))
		c.writeValue(reply)
		if cmd.Kind == command.Quit {
			return
		}
	}
}

// handle applies MULTI/EXEC/DISCARD queuing, SUBSCRIBE-mode restriction,
// and AUTH gating before letting the dispatcher run a command.
func (c *Conn) handle(ctx context.Context, cmd command.Command, raw []byte) resp.Value {
	if c.store.RequiresAuth() && !c.authenticated && cmd.Kind != command.Auth && cmd.Kind != command.Hello && cmd.Kind != command.Quit && cmd.Kind != command.Ping {
		return resp.Err("NOAUTH Authentication required.")
	}

	if c.mode == modeSubscribed && !subscribeOnlyAllowed[cmd.Kind] {
		return resp.Err("ERR Can't execute '" + strings.ToLower(cmd.Name) + "': only (P)SUBSCRIBE / (P)UNSUBSCRIBE / PING / QUIT are allowed in this context")
	}

	switch cmd.Kind {
	case command.Auth:
		return c.handleAuth(cmd)
	case command.Multi:
		c.mode = modeTxn
		c.txnQueue = c.txnQueue[:0]
		return resp.Simple("OK")
	case command.Discard:
		if c.mode != modeTxn {
			return resp.Err("ERR DISCARD without MULTI")
		}
		c.mode = modeNormal
		c.txnQueue = nil
		return resp.Simple("OK")
	case command.Exec:
		if c.mode != modeTxn {
			return resp.Err("ERR EXEC without MULTI")
		}
		return c.execTxn(ctx)
	case command.Subscribe, command.PSubscribe, command.Unsubscribe, command.PUnsubscribe:
		return c.handleSubscribe(cmd)
	case command.ReplConf:
		return c.handleReplConf(cmd)
	case command.Acl:
		return c.handleACL(cmd)
	}

	if c.mode == modeTxn {
		c.txnQueue = append(c.txnQueue, cmd)
		return resp.Simple("QUEUED")
	}

	return c.dsp.Execute(ctx, cmd, raw)
}

func (c *Conn) execTxn(ctx context.Context) resp.Value {
	c.mode = modeNormal
	queue := c.txnQueue
	c.txnQueue = nil
	items := make([]resp.Value, len(queue))
	for i, cmd := range queue {
		items[i] = c.dsp.Execute(ctx, cmd, resp.Bytes(commandToArray(cmd)))
	}
	return resp.Arr(items...)
}

func commandToArray(cmd command.Command) resp.Value {
	items := make([]resp.Value, 0, len(cmd.Args)+1)
	items = append(items, resp.BulkStr(cmd.Name))
	for _, a := range cmd.Args {
		items = append(items, resp.Bulk(a))
	}
	return resp.Arr(items...)
}

func (c *Conn) handleAuth(cmd command.Command) resp.Value {
	if !c.authLimiter.Allow() {
		return resp.Err("ERR too many authentication attempts, please wait")
	}
	var user, pass string
	if len(cmd.Args) == 1 {
		user, pass = "default", string(cmd.Args[0])
	} else {
		user, pass = string(cmd.Args[0]), string(cmd.Args[1])
	}
	if err := c.store.Authenticate(user, pass); err != nil {
		return resp.Err("WRONGPASS invalid username-password pair or user is disabled.")
	}
	c.authenticated = true
	c.username = user
	return resp.Simple("OK")
}

func (c *Conn) handleACL(cmd command.Command) resp.Value {
	if len(cmd.Args) == 0 {
		return resp.Err("ERR wrong number of arguments for 'acl' command")
	}
	switch strings.ToUpper(string(cmd.Args[0])) {
	case "WHOAMI":
		if c.username == "" {
			return resp.BulkStr("default")
		}
		return resp.BulkStr(c.username)
	case "LIST":
		names := c.store.ACLUserNames()
		items := make([]resp.Value, len(names))
		for i, n := range names {
			items[i] = resp.BulkStr(n)
		}
		return resp.Arr(items...)
	case "SETUSER":
		if len(cmd.Args) < 2 {
			return resp.Err("ERR wrong number of arguments for 'acl|setuser' command")
		}
		pass, noPass, enabled := "", false, true
		for _, a := range cmd.Args[2:] {
			switch tok := string(a); {
			case strings.HasPrefix(tok, ">"):
				pass = tok[1:]
			case strings.EqualFold(tok, "nopass"):
				noPass = true
			case strings.EqualFold(tok, "on"):
				enabled = true
			case strings.EqualFold(tok, "off"):
				enabled = false
			}
		}
		if err := c.store.ACLSetUser(string(cmd.Args[1]), pass, noPass, enabled); err != nil {
			return resp.Err("ERR " + err.Error())
		}
		return resp.Simple("OK")
	case "GETUSER":
		if len(cmd.Args) < 2 {
			return resp.Err("ERR wrong number of arguments for 'acl|getuser' command")
		}
		enabled, noPass, err := c.store.ACLUserInfo(string(cmd.Args[1]))
		if err != nil {
			return resp.NullArray()
		}
		status := "off"
		if enabled {
			status = "on"
		}
		passwords := "nopass"
		if !noPass {
			passwords = "hashed"
		}
		return resp.Arr(
			resp.BulkStr("flags"),
			resp.Arr(resp.BulkStr(status), resp.BulkStr(passwords)),
			resp.BulkStr("passwords"),
			resp.Arr(),
		)
	default:
		return resp.Err("ERR unknown ACL subcommand")
	}
}

func (c *Conn) handleSubscribe(cmd command.Command) resp.Value {
	if c.pubsubCh == nil {
		c.subID = c.store.NewSubscriberID()
		c.pubsubCh = make(chan keyspace.PublishedMessage, 256)
		go c.pumpPubSub()
	}

	var lastReply resp.Value
	for _, arg := range cmd.Args {
		name := string(arg)
		switch cmd.Kind {
		case command.Subscribe:
			c.subChans[name] = true
			c.store.Subscribe(name, &keyspace.Subscriber{ID: c.subID, Ch: c.pubsubCh})
			lastReply = resp.Arr(resp.BulkStr("subscribe"), resp.BulkStr(name), resp.Int(int64(c.subCount())))
		case command.PSubscribe:
			c.subPats[name] = true
			c.store.PSubscribe(name, &keyspace.Subscriber{ID: c.subID, Ch: c.pubsubCh})
			lastReply = resp.Arr(resp.BulkStr("psubscribe"), resp.BulkStr(name), resp.Int(int64(c.subCount())))
		case command.Unsubscribe:
			delete(c.subChans, name)
			c.store.Unsubscribe(name, c.subID)
			lastReply = resp.Arr(resp.BulkStr("unsubscribe"), resp.BulkStr(name), resp.Int(int64(c.subCount())))
		case command.PUnsubscribe:
			delete(c.subPats, name)
			c.store.PUnsubscribe(name, c.subID)
			lastReply = resp.Arr(resp.BulkStr("punsubscribe"), resp.BulkStr(name), resp.Int(int64(c.subCount())))
		}
		c.writeValue(lastReply)
	}

	if c.subCount() > 0 {
		c.mode = modeSubscribed
	} else {
		c.mode = modeNormal
	}
	return resp.Value{}
}

func (c *Conn) subCount() int { return len(c.subChans) + len(c.subPats) }

// pumpPubSub forwards published messages to the client out-of-band from
// the request-reply loop, since a subscribed connection can receive
// messages at any time between commands.
func (c *Conn) pumpPubSub() {
	for msg := range c.pubsubCh {
		var v resp.Value
		if msg.Pattern != "" {
			v = resp.Arr(resp.BulkStr("pmessage"), resp.BulkStr(msg.Pattern), resp.BulkStr(msg.Channel), resp.Bulk(msg.Payload))
		} else {
			v = resp.Arr(resp.BulkStr("message"), resp.BulkStr(msg.Channel), resp.Bulk(msg.Payload))
		}
		c.writeValue(v)
	}
}

func (c *Conn) handleReplConf(cmd command.Command) resp.Value {
	if command.ReplConfIsGetAck(cmd.Args) {
		if c.replDesc != nil {
			c.writeValue(resp.Arr(resp.BulkStr("REPLCONF"), resp.BulkStr("ACK"),
				resp.BulkStr(itoa(c.replDesc.AckedOffset()))))
		}
		return resp.Value{}
	}
	if len(cmd.Args) >= 2 && strings.EqualFold(string(cmd.Args[0]), "ACK") {
		if c.replDesc != nil {
			if off, err := parseInt(string(cmd.Args[1])); err == nil {
				c.replDesc.SetAcked(off)
			}
		}
		return resp.Value{}
	}
	return resp.Simple("OK")
}

// handlePSync promotes the connection to a replica feed: it responds
// with a full-resync handover frame, then streams every later
// Propagate'd write until the socket closes.
func (c *Conn) handlePSync(ctx context.Context) {
	c.mode = modeReplica
	c.replDesc = c.store.Replicas().Register()
	defer c.store.Replicas().Unregister(c.replDesc.ID)

	c.writeValue(resp.Simple("FULLRESYNC " + c.store.ReplID() + " " + itoa(c.store.Replicas().Offset())))
	snapshot := c.store.SnapshotBytes()
	if _, err := c.nc.Write(resp.WriteRawSnapshotFrame(snapshot)); err != nil {
		return
	}

	replication.StreamToReplica(ctx, c.nc, c.br, c.replDesc)
}

func (c *Conn) writeValue(v resp.Value) {
	if v.Kind == 0 && !v.Null && v.Items == nil {
		return
	}
	if _, err := c.nc.Write(resp.Bytes(v)); err != nil {
		cclog.Debugf("[CONN]> write failed: %v", err)
	}
}

func (c *Conn) close() {
	for ch := range c.subChans {
		c.store.Unsubscribe(ch, c.subID)
	}
	for p := range c.subPats {
		c.store.PUnsubscribe(p, c.subID)
	}
	if c.pubsubCh != nil {
		close(c.pubsubCh)
	}
	c.nc.Close()
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func parseInt(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) }
