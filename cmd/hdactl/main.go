// Command hdactl is the operator console for a running controller: a small
// line-oriented shell over a devtable.Controller, plus an optional HTTP/
// websocket debug surface that lists the device names and bus topics and
// streams eventbus events to connected browsers.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/shlex"
	"github.com/gorilla/websocket"

	"hdacore/internal/config"
	"hdacore/internal/devtable"
	"hdacore/internal/eventbus"
	"hdacore/internal/logx"
	"hdacore/internal/soundcore"
)

var log = logx.New("hdactl")

func main() {
	profileName := flag.String("profile", "generic", "embedded bring-up profile name")
	httpAddr := flag.String("http", "", "optional address (e.g. :8090) to serve a debug HTTP/websocket console on")
	flag.Parse()

	profile, err := config.Load(*profileName)
	if err != nil {
		log.Errorf("load profile: %v", err)
		os.Exit(1)
	}
	logx.SetLevel(profile.LogLevel)

	bus := eventbus.New(profile.DebugBusDepth)
	ctrl := newFakeController(profile)
	bus.Publish(bus.NewEvent(eventbus.Topic{"controller", "bringup"}, profile.Name, true))

	if *httpAddr != "" {
		go serveDebugHTTP(*httpAddr, bus, ctrl)
	}

	runShell(ctrl, bus)
}

func runShell(ctrl *devtable.Controller, bus *eventbus.Bus) {
	sc := bufio.NewScanner(os.Stdin)
	open := map[string]*soundcore.Handle{}
	fmt.Println("hdactl ready; commands: open NAME, write NAME TEXT, read NAME N, list, close NAME, quit")
	for sc.Scan() {
		args, err := shlex.Split(sc.Text())
		if err != nil || len(args) == 0 {
			continue
		}
		switch args[0] {
		case "list":
			for _, n := range ctrl.ListNames() {
				fmt.Println(n)
			}
		case "open":
			if len(args) < 2 {
				fmt.Println("usage: open NAME")
				continue
			}
			h, err := soundcore.Open(ctrl, args[1])
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			open[args[1]] = h
			bus.Publish(bus.NewEvent(eventbus.Topic{"device", args[1], "opened"}, nil, false))
		case "write":
			h := open[args[1]]
			if h == nil || len(args) < 3 {
				fmt.Println("not open or missing text")
				continue
			}
			n, err := h.Write(context.Background(), []byte(args[2]), 1000)
			fmt.Println("wrote", n, "bytes, err:", err)
		case "read":
			h := open[args[1]]
			if h == nil || len(args) < 3 {
				fmt.Println("not open or missing count")
				continue
			}
			n, _ := strconv.Atoi(args[2])
			buf := make([]byte, n)
			nr, err := h.Read(context.Background(), buf, 1000, 0)
			fmt.Printf("read %d bytes, err: %v\n%q\n", nr, err, buf[:nr])
		case "close":
			h := open[args[1]]
			if h == nil {
				continue
			}
			_ = h.Close()
			delete(open, args[1])
			bus.Publish(bus.NewEvent(eventbus.Topic{"device", args[1], "closed"}, nil, false))
		case "quit", "exit":
			return
		default:
			fmt.Println("unknown command:", args[0])
		}
	}
}

var wsUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func serveDebugHTTP(addr string, bus *eventbus.Bus, ctrl *devtable.Controller) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.GET("/devices", func(c *gin.Context) {
		c.JSON(http.StatusOK, ctrl.ListNames())
	})
	r.GET("/topics", func(c *gin.Context) {
		c.JSON(http.StatusOK, bus.RootTopics())
	})
	r.GET("/events", func(c *gin.Context) {
		conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		sub := bus.Subscribe(eventbus.Topic{eventbus.MultiWildcard})
		defer sub.Unsubscribe()
		for ev := range sub.Channel() {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	})
	log.Infof("debug console listening on %s", addr)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Errorf("debug http server: %v", err)
	}
}
