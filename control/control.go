// Package control exposes the operator controls over GraphQL: transform parameters,
// stream and column selection, palettes and starting or stopping acquisition.
package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/golang/glog"
	"github.com/graphql-go/graphql"

	"github.com/peragwin/dasview/device"
	"github.com/peragwin/dasview/display"
	"github.com/peragwin/dasview/pipeline"
	"github.com/peragwin/dasview/stream"
	"github.com/peragwin/dasview/transform"
	"github.com/peragwin/dasview/util"
)

// Controller owns the GraphQL schema over a pipeline and its display scheduler.
type Controller struct {
	pipeline  *pipeline.Pipeline
	scheduler *display.Scheduler
	// ConfigPath, if set, is where transform changes are saved.
	configPath string
	schema     graphql.Schema
}

type selection struct {
	Channel int    `json:"channel"`
	Kind    string `json:"kind"`
}

type runState struct {
	Running bool   `json:"running"`
	Line    string `json:"line"`
	Frames  int    `json:"frames"`
	Column  int    `json:"column"`
}

// New creates a controller. Transform changes are saved to configPath when it is not empty.
func New(p *pipeline.Pipeline, s *display.Scheduler, configPath string) (*Controller, error) {
	c := &Controller{pipeline: p, scheduler: s, configPath: configPath}
	if err := c.initGraphql(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Controller) selection() selection {
	key := c.scheduler.Selected()
	return selection{Channel: key.Channel, Kind: key.Kind.String()}
}

func (c *Controller) state() runState {
	st := c.scheduler.Status()
	return runState{
		Running: c.pipeline.Running(),
		Line:    st.String(),
		Frames:  int(st.Frames),
		Column:  st.Column,
	}
}

func (c *Controller) setTransform(args map[string]interface{}) (transform.Config, error) {
	cfg := c.scheduler.Config()
	if err := setFields(&cfg, args); err != nil {
		return cfg, err
	}
	if !cfg.Mode.Valid() {
		return c.scheduler.Config(), fmt.Errorf("unknown transform mode %q", cfg.Mode)
	}
	cfg = c.scheduler.SetConfig(cfg)
	if c.configPath != "" {
		if err := transform.SaveConfig(c.configPath, cfg); err != nil {
			glog.Errorf("saving transform config: %v", err)
		}
	}
	return cfg, nil
}

func (c *Controller) start(args map[string]interface{}) error {
	params := c.pipeline.Params()
	if params == (device.Params{}) {
		params = device.DefaultParams()
	}
	if err := setFields(&params, args); err != nil {
		return err
	}
	if err := c.pipeline.Restart(params); err != nil {
		return err
	}
	c.scheduler.Reset()
	return nil
}

func (c *Controller) initGraphql() error {
	transformType, transformInput := newGraphqlType("Transform", &transform.Config{})
	acqType, acqInput := newGraphqlType("Acquisition", &device.Params{})
	statsType, _ := newGraphqlType("Stats", &pipeline.Stats{})
	selType, _ := newGraphqlType("Selection", &selection{})
	stateType, _ := newGraphqlType("State", &runState{})

	spectrumType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Spectrum",
		Fields: graphql.Fields{
			"freqs": &graphql.Field{Type: graphql.NewList(graphql.Float)},
			"power": &graphql.Field{Type: graphql.NewList(graphql.Float)},
		},
	})

	rootQuery := graphql.NewObject(graphql.ObjectConfig{
		Name: "RootQuery",
		Fields: graphql.Fields{
			"transform": &graphql.Field{
				Type: transformType,
				Resolve: func(graphql.ResolveParams) (interface{}, error) {
					return c.scheduler.Config(), nil
				},
			},
			"modes": &graphql.Field{
				Type: graphql.NewList(graphql.String),
				Resolve: func(graphql.ResolveParams) (interface{}, error) {
					modes := make([]string, len(transform.Modes))
					for i, m := range transform.Modes {
						modes[i] = string(m)
					}
					return modes, nil
				},
			},
			"acquisition": &graphql.Field{
				Type: acqType,
				Resolve: func(graphql.ResolveParams) (interface{}, error) {
					return c.pipeline.Params(), nil
				},
			},
			"selection": &graphql.Field{
				Type: selType,
				Resolve: func(graphql.ResolveParams) (interface{}, error) {
					return c.selection(), nil
				},
			},
			"status": &graphql.Field{
				Type: stateType,
				Resolve: func(graphql.ResolveParams) (interface{}, error) {
					return c.state(), nil
				},
			},
			"stats": &graphql.Field{
				Type: statsType,
				Resolve: func(graphql.ResolveParams) (interface{}, error) {
					return c.pipeline.Stats(), nil
				},
			},
			"palettes": &graphql.Field{
				Type: graphql.NewList(graphql.String),
				Resolve: func(graphql.ResolveParams) (interface{}, error) {
					return util.PaletteNames(), nil
				},
			},
			"spectrum": &graphql.Field{
				Type: spectrumType,
				Resolve: func(graphql.ResolveParams) (interface{}, error) {
					freqs, power := c.scheduler.Spectrum()
					return map[string]interface{}{"freqs": freqs, "power": power}, nil
				},
			},
		},
	})

	rootMut := graphql.NewObject(graphql.ObjectConfig{
		Name: "RootMut",
		Fields: graphql.Fields{
			"transform": &graphql.Field{
				Type: transformType,
				Args: graphql.FieldConfigArgument{
					"params": &graphql.ArgumentConfig{Type: graphql.NewNonNull(transformInput)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					args, _ := p.Args["params"].(map[string]interface{})
					return c.setTransform(args)
				},
			},
			"select": &graphql.Field{
				Type: selType,
				Args: graphql.FieldConfigArgument{
					"channel": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
					"kind":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					kind, err := stream.ParseKind(p.Args["kind"].(string))
					if err != nil {
						return nil, err
					}
					key := stream.Key{Channel: p.Args["channel"].(int), Kind: kind}
					if err := c.scheduler.Select(key); err != nil {
						return nil, err
					}
					return c.selection(), nil
				},
			},
			"column": &graphql.Field{
				Type: graphql.Int,
				Args: graphql.FieldConfigArgument{
					"index": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					col := p.Args["index"].(int)
					if col < 0 {
						return nil, errors.New("column must not be negative")
					}
					c.scheduler.SelectColumn(col)
					return col, nil
				},
			},
			"pixel": &graphql.Field{
				Type: graphql.Boolean,
				Args: graphql.FieldConfigArgument{
					"x":     &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
					"width": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					width := p.Args["width"].(int)
					if width < 1 {
						return nil, errors.New("display width must be positive")
					}
					c.scheduler.SelectPixel(p.Args["x"].(int), width)
					return true, nil
				},
			},
			"palette": &graphql.Field{
				Type: graphql.String,
				Args: graphql.FieldConfigArgument{
					"name": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					name := p.Args["name"].(string)
					pal, err := util.PaletteByName(name)
					if err != nil {
						return nil, err
					}
					c.scheduler.SetPalette(pal)
					return name, nil
				},
			},
			"start": &graphql.Field{
				Type: stateType,
				Args: graphql.FieldConfigArgument{
					"params": &graphql.ArgumentConfig{Type: acqInput},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					args, _ := p.Args["params"].(map[string]interface{})
					if err := c.start(args); err != nil {
						return nil, err
					}
					return c.state(), nil
				},
			},
			"stop": &graphql.Field{
				Type: stateType,
				Resolve: func(graphql.ResolveParams) (interface{}, error) {
					if err := c.pipeline.Stop(); err != nil {
						return nil, err
					}
					return c.state(), nil
				},
			},
		},
	})

	schema, err := graphql.NewSchema(graphql.SchemaConfig{
		Query:    rootQuery,
		Mutation: rootMut,
	})
	if err != nil {
		return err
	}
	c.schema = schema
	return nil
}

// Query runs a GraphQL request against the controller.
func (c *Controller) Query(query string, vars map[string]interface{}) *graphql.Result {
	return graphql.Do(graphql.Params{
		Schema:         c.schema,
		RequestString:  query,
		VariableValues: vars,
	})
}

func (c *Controller) respond(w http.ResponseWriter, query string, vars map[string]interface{}) {
	res := c.Query(query, vars)
	for _, err := range res.Errors {
		glog.Warningf("graphql: %v", err)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

// ServeV1 answers GET requests carrying the query in the query string.
func (c *Controller) ServeV1(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if glog.V(2) {
		glog.Info(query)
	}
	c.respond(w, query, nil)
}

// ServeV2 answers POST requests with a JSON body holding query and variables.
func (c *Controller) ServeV2(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var req struct {
		Query     string                 `json:"query"`
		Variables map[string]interface{} `json:"variables"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if glog.V(2) {
		glog.Info(req.Query)
	}
	c.respond(w, req.Query, req.Variables)
}

// Register adds the GraphQL endpoints to mux.
func (c *Controller) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/graphql", c.ServeV1)
	mux.HandleFunc("/api/v2/graphql", c.ServeV2)
}
