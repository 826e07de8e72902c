package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hbomb79/Lyre/internal/api/downloads"
	"github.com/hbomb79/Lyre/internal/api/files"
	"github.com/hbomb79/Lyre/internal/api/health"
	"github.com/hbomb79/Lyre/internal/api/histories"
	"github.com/hbomb79/Lyre/internal/history"
	"github.com/hbomb79/Lyre/internal/http/websocket"
	"github.com/hbomb79/Lyre/internal/library"
	"github.com/hbomb79/Lyre/pkg/logger"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var log = logger.Get("API")

const shutdownTimeout = 5 * time.Second

type (
	RestConfig struct {
		HostAddr string
		Port     string
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// The RestGateway is a thin-wrapper around the Echo HTTP router. It's sole responsbility
	// is to create the routes Lyre exposes, and to manage ongoing web socket connections
	// and events.
	RestGateway struct {
		*broadcaster
		config             *RestConfig
		ec                 *echo.Echo
		socket             *websocket.SocketHub
		downloadController controller
		fileController     controller
		historyController  controller
		healthController   controller
	}
)

// NewRestGateway constructs the Echo router and populates it with all the
// routes defined by the various controllers.
func NewRestGateway(
	config *RestConfig,
	downloadService downloads.Service,
	lib *library.Library,
	historyStore history.Store,
	versionChecker health.VersionChecker,
) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true
	ec.HTTPErrorHandler = httpErrorHandler
	ec.Validator = &requestValidator{validate: validator.New()}

	socket := websocket.New()
	gateway := &RestGateway{
		broadcaster:        newBroadcaster(socket, downloadService),
		config:             config,
		ec:                 ec,
		socket:             socket,
		downloadController: downloads.New(downloadService),
		fileController:     files.New(lib),
		historyController:  histories.New(historyStore),
		healthController:   health.New(versionChecker),
	}

	ec.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "${method} ${uri} -> ${status} (${latency_human})${error}\n",
		Output: logWriter{},
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/healthz"
		},
	}))
	ec.Use(middleware.Recover())
	ec.Use(newSpecValidatorMiddleware())

	ec.GET("/", serveIndex)
	ec.GET("/activity/ws", func(ec echo.Context) error {
		gateway.socket.UpgradeToSocket(ec.Response(), ec.Request())
		return nil
	})

	root := ec.Group("")
	gateway.downloadController.SetRoutes(root)
	gateway.fileController.SetRoutes(ec.Group("/download"))
	gateway.historyController.SetRoutes(ec.Group("/history"))
	gateway.healthController.SetRoutes(ec.Group("/healthz"))

	gateway.socket.WithConnectionCallback(gateway.connectionPayload)
	gateway.socket.BindCommand(COMMAND_TASK_DETAILS, gateway.handleTaskDetailsCommand)

	return gateway
}

// Address returns the host:port the gateway listens on.
func (config *RestConfig) Address() string {
	return net.JoinHostPort(config.HostAddr, config.Port)
}

func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	defer ctxCancel(nil)
	wg := &sync.WaitGroup{}

	// Start echo router
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Emit(logger.INFO, "Listening on %s\n", gateway.config.Address())
		if err := gateway.ec.Start(gateway.config.Address()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ctxCancel(err)
		}
	}()

	// Start thread to listen for context cancellation
	go func(ec *echo.Echo) {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := ec.Shutdown(shutdownCtx); err != nil {
			log.Emit(logger.WARNING, "Graceful shutdown of HTTP server failed: %v\n", err)
			_ = ec.Close()
		}
	}(gateway.ec)

	// Start websocket
	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.socket.Start(ctx)
	}()

	wg.Wait()

	// Return cancellation cause if any, otherwise nil as parent context
	// cancellation is not an error case we should report.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}

// logWriter adapts the API logger to the io.Writer the echo
// access log middleware expects.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	log.Emit(logger.VERBOSE, "%s", p)
	return len(p), nil
}
