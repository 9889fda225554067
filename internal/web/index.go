package web

// Single-page dashboard: equity curve from the asset SSE stream plus a
// live status strip from the status SSE stream.
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Solie</title>
  <script src="https://cdn.jsdelivr.net/npm/chart.js"></script>
  <link href="https://fonts.googleapis.com/css2?family=Space+Mono:wght@400;700&display=swap" rel="stylesheet">
  <style>
    :root { --bg:#ffffff; --ink:#111111; --ink-mid:#4d4d4d; --panel:#f6f6f6; }
    * { box-sizing:border-box; }
    body {
      margin:0; min-height:100vh; display:flex; align-items:center; justify-content:center;
      padding:2rem; background:var(--bg); color:var(--ink);
      font-family:'Space Mono','JetBrains Mono',monospace;
    }
    #app {
      width:min(1200px,96vw); background:var(--panel); border:3px solid var(--ink);
      padding:2rem; box-shadow:12px 12px 0 rgba(0,0,0,.15);
      display:flex; flex-direction:column; gap:1.5rem;
    }
    header { display:flex; justify-content:space-between; align-items:center; gap:1rem; }
    h1 { font-size:.9rem; text-transform:uppercase; letter-spacing:.2em; margin:0; }
    .status {
      font-size:.65rem; text-transform:uppercase; letter-spacing:.1em;
      border:2px solid var(--ink); padding:.4rem .9rem; background:#fff;
      box-shadow:4px 4px 0 rgba(0,0,0,.15);
    }
    canvas { width:100%; border:2px solid var(--ink); background:#fff; }
    .strip { display:flex; flex-wrap:wrap; gap:.5rem; }
    .pill {
      font-size:.6rem; letter-spacing:.12em; text-transform:uppercase;
      padding:.35rem .7rem; border:2px solid var(--ink); background:#fff;
      box-shadow:4px 4px 0 rgba(0,0,0,.15);
    }
  </style>
</head>
<body>
  <div id="app">
    <header>
      <h1>solie</h1>
      <div id="sse-status" class="status">Connecting…</div>
    </header>
    <canvas id="equityChart" height="300"></canvas>
    <div class="strip">
      <span id="pill-cumulation" class="pill">cumulation —</span>
      <span id="pill-ping" class="pill">ping —</span>
      <span id="pill-offset" class="pill">offset —</span>
      <span id="pill-tasks" class="pill">tasks —</span>
    </div>
  </div>
<script>
Chart.defaults.font.family = "'Space Mono','JetBrains Mono',monospace";
Chart.defaults.color = '#111111';

const statusEl = document.getElementById('sse-status');
const chart = new Chart(document.getElementById('equityChart').getContext('2d'), {
  type: 'line',
  data: { labels: [], datasets: [{
    label: 'result asset', data: [],
    borderColor: '#111111', backgroundColor: 'rgba(17,17,17,0.12)',
    borderWidth: 2, pointRadius: 0, tension: 0.1
  }]},
  options: { animation:false, responsive:true,
    plugins:{ decimation:{ enabled:true, algorithm:'lttb', samples:500 } } }
});

function connectAssetSSE(){
  const source = new EventSource('/asset/stream');
  source.addEventListener('asset', (event) => {
    try {
      const row = JSON.parse(event.data);
      chart.data.labels.push(new Date(row.time).toLocaleTimeString([], { hour12:false }));
      chart.data.datasets[0].data.push(row.result_asset);
      if (chart.data.labels.length > 50000) {
        chart.data.labels.shift();
        chart.data.datasets[0].data.shift();
      }
      chart.update('none');
    } catch (err) { console.error('asset parse', err); }
  });
  source.addEventListener('error', () => {
    source.close();
    setTimeout(connectAssetSSE, 2000);
  });
}

function connectStatusSSE(){
  const source = new EventSource('/status/stream');
  source.addEventListener('status', (event) => {
    try {
      const report = JSON.parse(event.data);
      statusEl.textContent = report.connected ? 'Online' : 'Offline';
      document.getElementById('pill-cumulation').textContent =
        'cumulation ' + (report.cumulation_rate * 100).toFixed(1) + '%';
      document.getElementById('pill-ping').textContent =
        'ping ' + (report.mean_ping / 1e6).toFixed(0) + 'ms';
      document.getElementById('pill-offset').textContent =
        'offset ' + (report.mean_offset / 1e6).toFixed(0) + 'ms';
      document.getElementById('pill-tasks').textContent =
        'tasks ' + ((report.running_tasks || []).join(', ') || 'idle');
    } catch (err) { console.error('status parse', err); }
  });
  source.addEventListener('error', () => {
    statusEl.textContent = 'Reconnecting…';
    source.close();
    setTimeout(connectStatusSSE, 2000);
  });
}

connectAssetSSE();
connectStatusSSE();
</script>
</body>
</html>`
