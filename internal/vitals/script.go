// internal/vitals/script.go
package vitals

// InstallScript runs on every new document before any page script. It is
// idempotent: re-evaluation on a redirect hop or subframe leaves an already
// installed measurement session alone.
//
// Four hooks register independently; one failing (unsupported entry type,
// patched PerformanceObserver) leaves only its own metric absent. Each hook
// self-disconnects once its signal is final: paint on first report, the
// others when their settle window elapses with no new entries. Values are
// milliseconds from navigation start; absent metrics stay null.
const InstallScript = `(() => {
	'use strict';
	if (window.__caliperVitals && window.__caliperVitals.installed) {
		return;
	}

	const state = {
		installed: true,
		fp: null,
		fcp: null,
		lcp: null,
		cls: null,
		inp: null,
		errors: {},
		observers: [],
		timers: {},
	};
	window.__caliperVitals = state;

	const disconnect = (obs) => {
		try { obs.disconnect(); } catch (e) { /* already gone */ }
	};

	const settle = (name, ms, obs) => {
		if (state.timers[name]) {
			clearTimeout(state.timers[name]);
		}
		state.timers[name] = setTimeout(() => disconnect(obs), ms);
	};

	const hook = (name, init) => {
		try {
			init();
		} catch (e) {
			state.errors[name] = String(e);
		}
	};

	hook('paint', () => {
		const obs = new PerformanceObserver((list) => {
			for (const entry of list.getEntries()) {
				if (entry.name === 'first-paint') {
					state.fp = entry.startTime;
				} else if (entry.name === 'first-contentful-paint') {
					state.fcp = entry.startTime;
				}
			}
			if (state.fcp !== null) {
				disconnect(obs);
			}
		});
		obs.observe({ type: 'paint', buffered: true });
		state.observers.push(obs);
	});

	hook('lcp', () => {
		const obs = new PerformanceObserver((list) => {
			for (const entry of list.getEntries()) {
				state.lcp = entry.renderTime || entry.loadTime || entry.startTime;
			}
			settle('lcp', 2000, obs);
		});
		obs.observe({ type: 'largest-contentful-paint', buffered: true });
		state.observers.push(obs);
		settle('lcp', 2000, obs);
	});

	hook('cls', () => {
		const obs = new PerformanceObserver((list) => {
			for (const entry of list.getEntries()) {
				if (!entry.hadRecentInput) {
					state.cls = (state.cls || 0) + entry.value;
				}
			}
			settle('cls', 3000, obs);
		});
		obs.observe({ type: 'layout-shift', buffered: true });
		state.observers.push(obs);
		settle('cls', 3000, obs);
	});

	hook('inp', () => {
		const obs = new PerformanceObserver((list) => {
			for (const entry of list.getEntries()) {
				if (entry.interactionId && entry.duration > (state.inp || 0)) {
					state.inp = entry.duration;
				}
			}
			settle('inp', 2000, obs);
		});
		obs.observe({ type: 'event', durationThreshold: 40, buffered: true });
		state.observers.push(obs);
	});

	state.finalize = () => {
		for (const name of Object.keys(state.timers)) {
			clearTimeout(state.timers[name]);
		}
		for (const obs of state.observers) {
			disconnect(obs);
		}
		const snapshot = {
			fp: state.fp,
			fcp: state.fcp,
			lcp: state.lcp,
			cls: state.cls,
			inp: state.inp,
			errors: state.errors,
		};
		state.installed = false;
		return snapshot;
	};
})();`

// readStateScript is the non-destructive poll used while waiting for a first
// paint metric.
const readStateScript = `(() => {
	const s = window.__caliperVitals;
	if (!s || !s.installed) {
		return null;
	}
	return { fp: s.fp, fcp: s.fcp, lcp: s.lcp, cls: s.cls, inp: s.inp, errors: s.errors };
})()`

// finalizeScript disconnects every remaining hook and resets the page-side
// session so a later install starts clean.
const finalizeScript = `(() => {
	const s = window.__caliperVitals;
	if (!s || !s.installed) {
		return null;
	}
	return s.finalize();
})()`

// navigationTimingScript reads TTFB and the page-load timing. responseStart
// of 0 means no real navigation happened; the caller leaves TTFB undefined.
const navigationTimingScript = `(() => {
	const nav = performance.getEntriesByType('navigation')[0];
	if (!nav) {
		return null;
	}
	const paint = performance.getEntriesByName('first-paint')[0];
	return {
		responseStart: nav.responseStart,
		domContentLoaded: nav.domContentLoadedEventEnd,
		loadTime: nav.loadEventEnd,
		firstPaint: paint ? paint.startTime : 0,
	};
})()`

// fallbackScript is the packaged alternative measurement source, used when
// the observer hooks produced nothing and configuration permits it. Paint
// entries come straight off the performance timeline; LCP and layout shifts
// are only delivered to observers, so it registers one-shot buffered ones
// and gives them a beat to report.
const fallbackScript = `(async () => {
	const out = { fp: null, fcp: null, lcp: null, cls: null, inp: null };
	try {
		for (const e of performance.getEntriesByType('paint')) {
			if (e.name === 'first-paint') { out.fp = e.startTime; }
			if (e.name === 'first-contentful-paint') { out.fcp = e.startTime; }
		}
	} catch (e) { /* keep nulls */ }

	const grab = (type, fn) => {
		try {
			const obs = new PerformanceObserver((list) => {
				fn(list.getEntries());
				obs.disconnect();
			});
			obs.observe({ type: type, buffered: true });
			return obs;
		} catch (e) {
			return null;
		}
	};
	const pending = [
		grab('largest-contentful-paint', (entries) => {
			if (entries.length > 0) {
				const last = entries[entries.length - 1];
				out.lcp = last.renderTime || last.loadTime || last.startTime;
			}
		}),
		grab('layout-shift', (entries) => {
			let cls = null;
			for (const e of entries) {
				if (!e.hadRecentInput) { cls = (cls || 0) + e.value; }
			}
			if (cls !== null) { out.cls = cls; }
		}),
	];
	await new Promise((resolve) => setTimeout(resolve, 200));
	for (const obs of pending) {
		if (obs) { try { obs.disconnect(); } catch (e) { /* fine */ } }
	}
	return out;
})()`
