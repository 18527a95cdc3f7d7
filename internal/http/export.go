package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedbackd/internal/export"
)

// handleExport streams the dataset. Headers go out with the first record;
// a failure after that aborts the connection instead of appending an error
// object to a half-written body.
func (s *Server) handleExport(c echo.Context) error {
	f, err := export.ParseFormat(c.QueryParam("format"))
	if err != nil {
		return err
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, f.ContentType())
	resp.Header().Set(echo.HeaderContentDisposition, "attachment; filename="+f.Filename())

	ctx := c.Request().Context()
	n, err := s.deps.Export.Stream(ctx, &streamWriter{resp: resp}, f)
	if err == nil {
		if !resp.Committed {
			resp.WriteHeader(http.StatusOK)
		}
		return nil
	}

	if ctx.Err() != nil {
		s.logger.Info(ctx, "export abandoned by client", zap.Int64("records", n))
		return nil
	}
	if !resp.Committed {
		return err
	}
	s.logger.Error(ctx, "export failed mid-stream", zap.Int64("records", n), zap.Error(err))
	panic(http.ErrAbortHandler)
}

// streamWriter commits the response on first write and only flushes once
// something has been written, so an error before the first record can
// still become a normal error response.
type streamWriter struct {
	resp *echo.Response
}

func (w *streamWriter) Write(p []byte) (int, error) {
	return w.resp.Write(p)
}

func (w *streamWriter) Flush() {
	if w.resp.Committed {
		_ = http.NewResponseController(w.resp.Writer).Flush()
	}
}
