package handler

import "net/http"

// postFilterWriter runs a hook right before the final status line is
// written, while the header map is still mutable.
type postFilterWriter struct {
	http.ResponseWriter
	statusCode int
	committed  bool
	onCommit   func(code int)
}

func newPostFilterWriter(w http.ResponseWriter, onCommit func(int)) *postFilterWriter {
	return &postFilterWriter{
		ResponseWriter: w,
		onCommit:       onCommit,
	}
}

func (w *postFilterWriter) WriteHeader(code int) {
	// informational responses do not end the header phase
	if code >= 100 && code < 200 && code != http.StatusSwitchingProtocols {
		w.ResponseWriter.WriteHeader(code)
		return
	}

	if w.committed {
		return
	}

	w.committed = true
	w.statusCode = code
	w.onCommit(code)
	w.ResponseWriter.WriteHeader(code)
}

func (w *postFilterWriter) Write(b []byte) (int, error) {
	if !w.committed {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *postFilterWriter) Flush() {
	if !w.committed {
		w.WriteHeader(http.StatusOK)
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *postFilterWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *postFilterWriter) status() int {
	if !w.committed {
		return http.StatusOK
	}
	return w.statusCode
}
