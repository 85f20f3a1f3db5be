// Copyright 2019 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"log"
	"net/http"
	"sync"

	"github.com/maruel/go-mlx90640/mlx90640"
	"github.com/maruel/go-mlx90640/thermal"
	"github.com/maruel/interrupt"
	"github.com/maruel/serve-dir/loghttp"
	"golang.org/x/net/websocket"
)

// webServer streams rendered frames to browsers.
//
// It keeps a short ring of recent frames so a websocket client that stalls
// for a moment catches up without a gap; one that stalls for longer skips
// ahead to the live edge.
type webServer struct {
	lo, hi float32

	mu    sync.Mutex
	cond  *sync.Cond // Wakes streamers when a frame lands in the ring.
	ring  [16]*mlx90640.Frame
	seq   int // Frames added so far; ring[(seq-1)%len(ring)] is the newest.
	stats mlx90640.Stats
}

func startWebServer(port int, lo, hi float32) *webServer {
	s := &webServer{lo: lo, hi: hi}
	s.cond = sync.NewCond(&s.mu)
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.root)
	mux.HandleFunc("/still.png", s.still)
	mux.HandleFunc("/favicon.ico", s.still)
	outer := http.NewServeMux()
	outer.Handle("/", &loghttp.Handler{Handler: mux})
	// The websocket handshake hijacks the connection, mount it outside the
	// logging middleware.
	outer.Handle("/ws", websocket.Handler(s.stream))
	fmt.Printf("Listening on %d\n", port)
	go func() {
		log.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", port), outer))
	}()
	go func() {
		<-interrupt.Channel
		s.cond.Broadcast()
	}()
	return s
}

// addFrame publishes a frame. The caller must not mutate it afterwards.
func (s *webServer) addFrame(f *mlx90640.Frame, st mlx90640.Stats) {
	s.mu.Lock()
	s.ring[s.seq%len(s.ring)] = f
	s.seq++
	s.stats = st
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *webServer) lastStats() mlx90640.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *webServer) latest() *mlx90640.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq == 0 {
		return nil
	}
	return s.ring[(s.seq-1)%len(s.ring)]
}

func (s *webServer) root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(rootHTML))
}

func (s *webServer) still(w http.ResponseWriter, r *http.Request) {
	f := s.latest()
	if f == nil {
		http.Error(w, "no frame captured yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	img := thermal.Image(f.Pix[:], mlx90640.Width, mlx90640.Height, s.lo, s.hi)
	if err := png.Encode(w, img); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// stream pushes every new frame over the websocket: the rendered image as
// base64 PNG in a frame prefixed with "I", then its metadata as JSON in a
// frame prefixed with "M".
func (s *webServer) stream(ws *websocket.Conn) {
	log.Printf("ws: %s connected", ws.Request().RemoteAddr)
	defer ws.Close()
	buf := &bytes.Buffer{}
	s.mu.Lock()
	defer s.mu.Unlock()
	sent := s.seq
	for !interrupt.IsSet() {
		for sent == s.seq && !interrupt.IsSet() {
			s.cond.Wait()
		}
		for sent < s.seq && !interrupt.IsSet() {
			if sent < s.seq-len(s.ring) {
				// Stalled beyond the ring, jump to the live edge.
				sent = s.seq - 1
			}
			f := s.ring[sent%len(s.ring)]
			s.mu.Unlock()
			// Frames are immutable once published, the I/O runs unlocked.
			err := s.sendFrame(ws, buf, f)
			s.mu.Lock()
			if err != nil {
				log.Printf("ws: %s: %s", ws.Request().RemoteAddr, err)
				return
			}
			sent++
		}
	}
}

func (s *webServer) sendFrame(ws *websocket.Conn, buf *bytes.Buffer, f *mlx90640.Frame) error {
	buf.Reset()
	buf.WriteByte('I')
	b64 := base64.NewEncoder(base64.StdEncoding, buf)
	img := thermal.Image(f.Pix[:], mlx90640.Width, mlx90640.Height, s.lo, s.hi)
	if err := png.Encode(b64, img); err != nil {
		return err
	}
	if err := b64.Close(); err != nil {
		return err
	}
	if _, err := ws.Write(buf.Bytes()); err != nil {
		return err
	}
	buf.Reset()
	buf.WriteByte('M')
	m := struct {
		mlx90640.Metadata
		Min float32
		Max float32
	}{f.Metadata, f.Min(), f.Max()}
	if err := json.NewEncoder(buf).Encode(&m); err != nil {
		return err
	}
	_, err := ws.Write(buf.Bytes())
	return err
}

const rootHTML = `<!DOCTYPE html>
<html>
<head>
<title>mlx90640</title>
<style>
img#view {
	width: 480px; /* 15x the sensor width. */
	image-rendering: pixelated;
}
</style>
</head>
<body>
<a href="/still.png"><img id="view" src="/still.png"></a>
<pre id="meta"></pre>
<script>
"use strict";
var view = document.getElementById("view");
var meta = document.getElementById("meta");
function connect() {
	var ws = new WebSocket("ws://" + document.location.host + "/ws");
	ws.onmessage = function(e) {
		if (e.data[0] == "I") {
			view.src = "data:image/png;base64," + e.data.substring(1);
		} else if (e.data[0] == "M") {
			var m = JSON.parse(e.data.substring(1));
			meta.textContent = "ambient " + m.TAmbient.toFixed(2) + "°C" +
				"; scene " + m.Min.toFixed(2) + "°C - " + m.Max.toFixed(2) + "°C" +
				"; vdd " + m.VDD.toFixed(2) + "V" +
				"; frame " + m.FrameCount + " subpage " + m.Subpage;
		}
	};
	ws.onclose = function() {
		window.setTimeout(connect, 1000);
	};
}
connect();
</script>
</body>
</html>
`
