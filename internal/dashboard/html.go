package dashboard

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>People Counter</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body { font-family: -apple-system, "Segoe UI", sans-serif; background: #12151c; color: #e4e7ee; }
        .app { max-width: 1100px; margin: 0 auto; padding: 20px; }
        .header { display: flex; justify-content: space-between; align-items: center; margin-bottom: 16px; }
        .title { font-size: 1.4em; font-weight: 600; }
        .panel { background: #1b2030; border-radius: 8px; padding: 16px; margin-bottom: 16px; }
        .panel h2 { font-size: 1.05em; margin-bottom: 10px; color: #9fb4d8; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; }
        img#feed { width: 100%; border-radius: 6px; background: #000; }
        .stat-row { display: flex; justify-content: space-between; padding: 5px 0; border-bottom: 1px solid #2a3146; }
        .stat-row span:last-child { font-variant-numeric: tabular-nums; color: #fff; }
        button, select, input { background: #2a3146; color: #e4e7ee; border: 1px solid #3c465f; border-radius: 5px; padding: 7px 12px; font-size: 0.95em; }
        button { cursor: pointer; }
        button:hover { background: #36405c; }
        .controls { display: flex; flex-wrap: wrap; gap: 8px; margin-top: 8px; }
        .alert-banner { background: #8a2a2a; color: #fff; padding: 8px 12px; border-radius: 6px; margin-bottom: 8px; font-weight: 600; display: none; }
        .error-text { color: #ff8f8f; min-height: 1.2em; font-size: 0.9em; margin-top: 6px; }
        #login-panel { max-width: 360px; margin: 80px auto; }
        #login-panel input { display: block; width: 100%; margin-bottom: 10px; }
        .hidden { display: none !important; }
        ul#alert-history { list-style: none; font-size: 0.88em; }
        ul#alert-history li { padding: 4px 0; border-bottom: 1px solid #2a3146; color: #c2cadd; }
    </style>
</head>
<body>
    <div class="app">
        <div id="login-panel" class="panel">
            <h2>Sign in</h2>
            <input id="login-user" type="text" placeholder="Username" autocomplete="username">
            <input id="login-pass" type="password" placeholder="Password" autocomplete="current-password">
            <button id="login-btn">Sign in</button>
            <div id="login-error" class="error-text"></div>
        </div>

        <div id="dashboard" class="hidden">
            <div class="header">
                <div class="title">People Counter</div>
                <button id="logout-btn">Sign out</button>
            </div>
            <div id="banner-capacity" class="alert-banner">CAPACITY EXCEEDED!</div>
            <div id="banner-restricted" class="alert-banner">RESTRICTED ITEM DETECTED!</div>
            <div class="grid">
                <div class="panel">
                    <h2>Live Feed</h2>
                    <img id="feed" src="/stream" alt="live feed">
                    <div class="controls">
                        <select id="model-select"></select>
                        <button id="model-apply">Load model</button>
                        <select id="mode-select">
                            <option value="eagle-eye">Eagle-eye</option>
                            <option value="lane">Lane</option>
                        </select>
                        <input id="lane-count" type="number" min="1" max="12" value="2" style="width:70px">
                        <button id="mode-apply">Apply mode</button>
                        <button id="reset-btn">Reset counts</button>
                        <button id="snapshot-btn">Snapshot</button>
                    </div>
                    <div id="control-error" class="error-text"></div>
                </div>
                <div>
                    <div class="panel">
                        <h2>Status</h2>
                        <div class="stat-row"><span>Model</span><span id="st-model">-</span></div>
                        <div class="stat-row"><span>Mode</span><span id="st-mode">-</span></div>
                        <div class="stat-row"><span>FPS</span><span id="st-fps">-</span></div>
                        <div class="stat-row"><span>People in view</span><span id="st-total">-</span></div>
                        <div class="stat-row"><span>Entered</span><span id="st-in">-</span></div>
                        <div class="stat-row"><span>Exited</span><span id="st-out">-</span></div>
                        <div class="stat-row"><span>Net</span><span id="st-net">-</span></div>
                        <div class="stat-row"><span>Frames</span><span id="st-frames">-</span></div>
                    </div>
                    <div class="panel">
                        <h2>Alerts</h2>
                        <ul id="alert-history"><li>No alerts yet</li></ul>
                    </div>
                </div>
            </div>
        </div>
    </div>

    <script>
        const $ = (id) => document.getElementById(id);
        let statusSource = null;

        async function api(path, opts) {
            const res = await fetch(path, opts);
            const body = await res.json().catch(() => ({}));
            if (!res.ok) {
                if (res.status === 401) showLogin();
                throw new Error(body.error || ('HTTP ' + res.status));
            }
            return body;
        }

        function showLogin() {
            if (statusSource) { statusSource.close(); statusSource = null; }
            $('dashboard').classList.add('hidden');
            $('login-panel').classList.remove('hidden');
        }

        function showDashboard() {
            $('login-panel').classList.add('hidden');
            $('dashboard').classList.remove('hidden');
            $('feed').src = '/stream?' + Date.now();
            loadModels();
            startStatusStream();
        }

        function applyStatus(st) {
            $('st-model').textContent = st.model_loaded ? st.model : 'none';
            $('st-mode').textContent = st.mode + (st.mode === 'lane' ? ' (' + st.lanes + ')' : '');
            $('st-fps').textContent = (st.current_fps || 0).toFixed(1);
            $('st-total').textContent = st.counts ? st.counts.total : 0;
            $('st-in').textContent = st.counts ? st.counts.in : 0;
            $('st-out').textContent = st.counts ? st.counts.out : 0;
            $('st-net').textContent = st.counts ? st.counts.net : 0;
            $('st-frames').textContent = st.frames_processed || 0;

            const active = st.active_alerts || [];
            $('banner-capacity').style.display = active.includes('capacity') ? 'block' : 'none';
            $('banner-restricted').style.display = active.includes('restricted') ? 'block' : 'none';

            const history = st.alert_history || [];
            const list = $('alert-history');
            list.innerHTML = '';
            if (history.length === 0) {
                list.innerHTML = '<li>No alerts yet</li>';
            } else {
                for (const ev of history.slice().reverse()) {
                    const li = document.createElement('li');
                    const ts = new Date(ev.sent_at).toLocaleTimeString();
                    li.textContent = ts + ' [' + ev.kind + '] ' + ev.message;
                    list.appendChild(li);
                }
            }
        }

        function startStatusStream() {
            if (statusSource) statusSource.close();
            statusSource = new EventSource('/api/status/stream');
            statusSource.onmessage = (e) => applyStatus(JSON.parse(e.data));
            statusSource.onerror = () => {
                // Fall back to a one-off poll; 401 sends us back to login.
                api('/api/status').then(applyStatus).catch(() => {});
            };
        }

        async function loadModels() {
            try {
                const body = await api('/api/models');
                const sel = $('model-select');
                sel.innerHTML = '';
                for (const name of body.models) {
                    const opt = document.createElement('option');
                    opt.value = name;
                    opt.textContent = name;
                    if (name === body.current) opt.selected = true;
                    sel.appendChild(opt);
                }
            } catch (err) { $('control-error').textContent = err.message; }
        }

        $('login-btn').onclick = async () => {
            $('login-error').textContent = '';
            try {
                await api('/api/login', {
                    method: 'POST',
                    headers: { 'Content-Type': 'application/json' },
                    body: JSON.stringify({ username: $('login-user').value, password: $('login-pass').value }),
                });
                showDashboard();
            } catch (err) { $('login-error').textContent = err.message; }
        };
        $('login-pass').addEventListener('keydown', (e) => { if (e.key === 'Enter') $('login-btn').click(); });

        $('logout-btn').onclick = async () => {
            try { await api('/api/logout', { method: 'POST' }); } catch (err) {}
            showLogin();
        };

        $('model-apply').onclick = async () => {
            $('control-error').textContent = '';
            try {
                await api('/api/models/select', {
                    method: 'POST',
                    headers: { 'Content-Type': 'application/json' },
                    body: JSON.stringify({ name: $('model-select').value }),
                });
                loadModels();
            } catch (err) { $('control-error').textContent = err.message; }
        };

        $('mode-apply').onclick = async () => {
            $('control-error').textContent = '';
            try {
                await api('/api/mode', {
                    method: 'POST',
                    headers: { 'Content-Type': 'application/json' },
                    body: JSON.stringify({ mode: $('mode-select').value, lanes: parseInt($('lane-count').value, 10) }),
                });
            } catch (err) { $('control-error').textContent = err.message; }
        };

        $('reset-btn').onclick = async () => {
            try { await api('/api/counts/reset', { method: 'POST' }); } catch (err) { $('control-error').textContent = err.message; }
        };

        $('snapshot-btn').onclick = async () => {
            $('control-error').textContent = '';
            try {
                const body = await api('/api/snapshot', { method: 'POST' });
                $('control-error').textContent = 'Saved ' + body.filename;
            } catch (err) { $('control-error').textContent = err.message; }
        };

        // Resume an existing session if the cookie is still valid.
        api('/api/status').then(() => showDashboard()).catch(() => showLogin());
    </script>
</body>
</html>
`
