package main

import (
    "net/http"
)

func serveChatPage(w http.ResponseWriter, req *http.Request) {
    w.Header().Set("Content-Type", "text/html")
    w.WriteHeader(http.StatusOK)
    w.Write([]byte(chat_page))
}

const chat_page = `<html>
    <head>
        <title> Dummy relay client </title>
        <meta charset="utf-8" name="viewport" />

        <style>
            body {
                padding-left: 10%;
                padding-right: 10%;
                font-size: large;
            }
            div {
                display: flex;
                flex-direction: row;
                align-items: baseline;
                margin-bottom: 0.25em;
            }
            input.text {
                margin-left: 1em;
                height: 2em;
                font-size: large;
            }
            input.button {
                height: 2em;
                font-size: large;
            }
            div.textbox {
                display: block;
                width: 95%;
                height: 60%;
                margin-top: 0.25em;
                overflow-y: scroll;
                border: solid;
                padding: 1em;
            }
        </style>

        <script>
            let ws = null;
            let userID = '';
            let heartbeat = null;

            let appendMsg = function(msg) {
                let log = document.getElementById('log');
                let p = document.createElement('p');
                p.textContent = msg;
                log.appendChild(p);
                log.scrollTo(0, log.scrollHeight);
            }

            let register = async function() {
                let name = document.getElementById('username').value;
                let res = await fetch('/api/users/create', {
                    method: 'POST',
                    headers: {'Content-Type': 'application/json'},
                    body: JSON.stringify({name: name}),
                });
                let body = await res.json();
                if (res.status == 201) {
                    userID = body.id;
                    appendMsg('Registered ' + body.name + ' as ' + body.id);
                } else if (res.status == 409) {
                    let lookup = await fetch('/api/users/' + encodeURIComponent(name));
                    let user = await lookup.json();
                    userID = user.id;
                    appendMsg('Using existing user ' + name);
                } else {
                    appendMsg('Registration failed: ' + body.message);
                }
            }

            let connect = function() {
                if (userID == '') {
                    appendMsg('Register first!');
                    return;
                }
                if (ws != null) {
                    ws.close();
                }

                ws = new WebSocket('ws://' + window.location.host + '/ws');
                ws.addEventListener('open', function() {
                    ws.send(JSON.stringify({id: userID}));
                    heartbeat = setInterval(function() { ws.send(' '); }, 10000);
                });
                ws.addEventListener('message', function(e) {
                    let msg = JSON.parse(e.data);
                    if (msg.from !== undefined) {
                        appendMsg(msg.from + ': ' + msg.message);
                    } else if (msg.type == 'connection_status') {
                        appendMsg('Connected!');
                    }
                });
                ws.addEventListener('close', function(e) {
                    appendMsg('Connection closed (' + e.code + ' ' + e.reason + ')');
                    clearInterval(heartbeat);
                    ws = null;
                });
            }

            let send = async function() {
                let to = document.getElementById('recipient');
                let mfield = document.getElementById('message');
                if (mfield.value == '') {
                    return;
                }

                let res = await fetch('/api/messages/send', {
                    method: 'POST',
                    headers: {'Content-Type': 'application/json', 'X-User-ID': userID},
                    body: JSON.stringify({recipient_name: to.value, message: mfield.value}),
                });
                let body = await res.json();
                if (res.status == 200) {
                    appendMsg('me -> ' + to.value + ': ' + mfield.value);
                    mfield.value = '';
                } else {
                    appendMsg('Send failed: ' + body.message);
                }
            }
        </script>
    </head>

    <body>
        <div>
            <label for='username'> Username: </label>
            <input class='text' type='text' id='username' name='username'>
            <input class='button' onclick="register();" type="button" value="Register">
            <input class='button' onclick="connect();" type="button" value="Connect">
        </div>

        <div class='textbox' id='log'> </div>

        <div>
            <label for='recipient'> To: </label>
            <input class='text' type='text' id='recipient' name='recipient'>
            <input class='text' type='text' id='message' name='message'>
            <input class='button' onclick="send();" type="button" value="Send">
        </div>
    </body>
</html>`
