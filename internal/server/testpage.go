package server

import (
	"fmt"
	"net/http"
)

// TestPage serves an HTML page for exercising the relay from a browser:
// connect, join a channel with a role, publish messages, and move slides.
func (h *Handler) TestPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		h.log.Error().Err(err).Msg("error writing HTML response")
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Rably Relay Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #events {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            font-family: monospace;
        }
        input[type="text"] { width: 220px; padding: 5px; margin-right: 10px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        button:disabled { background-color: #9bbcd1; cursor: default; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
        .row { margin: 8px 0; }
    </style>
</head>
<body>
    <h1>Rably Relay Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div class="row">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>

    <div class="row">
        <input type="text" id="channelInput" value="lecture1" placeholder="Channel">
        <select id="roleSelect">
            <option value="student">student</option>
            <option value="teacher">teacher</option>
        </select>
        <button class="needs-conn" onclick="subscribe()" disabled>Subscribe</button>
        <button onclick="showPresence()">Presence</button>
    </div>

    <div class="row">
        <input type="text" id="messageInput" placeholder="Message text">
        <button class="needs-conn" onclick="publish()" disabled>Publish</button>
    </div>

    <div class="row">
        <button class="needs-conn" onclick="moveSlide(-1)" disabled>Previous slide</button>
        <span>Slide <strong id="slide">1</strong></span>
        <button class="needs-conn" onclick="moveSlide(1)" disabled>Next slide</button>
    </div>

    <div id="events"></div>

    <script>
        let ws = null;
        let slide = 1;
        const eventsDiv = document.getElementById('events');
        const statusDiv = document.getElementById('status');
        const connectButton = document.getElementById('connectButton');

        function channel() {
            return document.getElementById('channelInput').value.trim();
        }

        function log(text, color) {
            const el = document.createElement('div');
            el.style.margin = '3px 0';
            el.style.color = color || 'gray';
            el.textContent = text;
            eventsDiv.appendChild(el);
            eventsDiv.scrollTop = eventsDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
            document.querySelectorAll('.needs-conn').forEach(b => b.disabled = !connected);
        }

        function send(msg) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify(msg));
                log('> ' + JSON.stringify(msg), 'blue');
            }
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = () => { log('connected'); updateStatus(true); };
            ws.onmessage = (event) => {
                const msg = JSON.parse(event.data);
                if (msg.type === 'slide_change' && msg.data && typeof msg.data.slide === 'number') {
                    slide = msg.data.slide;
                    document.getElementById('slide').textContent = slide;
                }
                log('< ' + event.data, 'green');
            };
            ws.onclose = () => { log('connection closed'); updateStatus(false); ws = null; };
            ws.onerror = () => { log('connection error', 'red'); };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function subscribe() {
            send({action: 'subscribe', channel: channel(), role: document.getElementById('roleSelect').value});
        }

        function publish() {
            const input = document.getElementById('messageInput');
            send({action: 'publish', channel: channel(), data: {text: input.value}});
            input.value = '';
        }

        function moveSlide(delta) {
            send({action: 'slide_change', channel: channel(), data: {slide: Math.max(1, slide + delta)}});
        }

        async function showPresence() {
            const res = await fetch('/channels/' + encodeURIComponent(channel()) + '/presence');
            log('presence ' + JSON.stringify(await res.json()), 'purple');
        }

        document.getElementById('messageInput').addEventListener('keypress', (e) => {
            if (e.key === 'Enter') {
                publish();
            }
        });
    </script>
</body>
</html>`
