package cmd

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zjrosen/beanserver/internal/capability"
	"github.com/zjrosen/beanserver/internal/log"
	"github.com/zjrosen/beanserver/internal/objname"
	"github.com/zjrosen/beanserver/internal/presentation"
	"github.com/zjrosen/beanserver/internal/server"
)

var (
	queryWhere      []string
	invokeSignature []string
)

var domainsCmd = &cobra.Command{
	Use:   "domains",
	Short: "List the domains that have registered objects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, srv *server.Server) error {
			return formatter(cmd).FormatDomains(srv.Domains())
		})
	},
}

var queryCmd = &cobra.Command{
	Use:   "query [pattern]",
	Short: "List objects whose names match a pattern",
	Long: `List registered objects whose names match a pattern.

A pattern may use * and ? in the domain only. Property values must match
exactly, and a property list ending in * also matches names carrying extra
properties. Without a pattern every object is listed.

Examples:
  # Everything
  beanserver query

  # All platform objects
  beanserver query 'go.runtime:*'

  # Objects whose attribute reads as a value (repeatable, AND logic)
  beanserver query '*:*' --where NumCPU=8`,
	Args: cobra.MaximumNArgs(1),
	RunE: runQuery,
}

func runQuery(cmd *cobra.Command, args []string) error {
	var pattern objname.Name
	if len(args) == 1 {
		p, err := objname.Parse(args[0])
		if err != nil {
			return err
		}
		pattern = p
	}

	conds, err := parseWhere(queryWhere)
	if err != nil {
		return err
	}

	return withSession(cmd, func(ctx context.Context, srv *server.Server) error {
		var pred server.Predicate
		if len(conds) > 0 {
			pred = whereClause(srv, conds)
		}
		insts, err := srv.QueryMBeans(ctx, pattern, pred)
		if err != nil {
			return err
		}
		return formatter(cmd).FormatObjects(presentation.FromInstances(insts))
	})
}

type condition struct {
	attr string
	want string
}

func parseWhere(raw []string) ([]condition, error) {
	out := make([]condition, 0, len(raw))
	for _, r := range raw {
		attr, want, ok := strings.Cut(r, "=")
		if !ok || attr == "" {
			return nil, fmt.Errorf("invalid --where %q, want attr=value", r)
		}
		out = append(out, condition{attr: attr, want: want})
	}
	return out, nil
}

// whereClause matches objects whose attributes all print as the wanted
// values.
func whereClause(srv *server.Server, conds []condition) server.Predicate {
	return server.PredicateFunc(func(ctx context.Context, name objname.Name) (bool, error) {
		for _, c := range conds {
			v, err := srv.GetAttribute(ctx, name, c.attr)
			if err != nil {
				return false, err
			}
			if presentation.FormatValue(v) != c.want {
				return false, nil
			}
		}
		return true, nil
	})
}

var getCmd = &cobra.Command{
	Use:   "get <name> [attribute...]",
	Short: "Read attributes of an object",
	Long: `Read attributes of an object. Without attribute names every readable
attribute is read. Attributes are read concurrently; a failed read is reported
next to the attribute instead of failing the command.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGet,
}

func runGet(cmd *cobra.Command, args []string) error {
	name, err := objname.Parse(args[0])
	if err != nil {
		return err
	}

	return withSession(cmd, func(ctx context.Context, srv *server.Server) error {
		attrs := args[1:]
		if len(attrs) == 0 {
			d, err := srv.GetDescriptor(ctx, name)
			if err != nil {
				return err
			}
			for _, a := range d.Attributes {
				if a.Readable {
					attrs = append(attrs, a.Name)
				}
			}
		} else if _, err := srv.GetObjectInstance(ctx, name); err != nil {
			return err
		}

		values := make([]presentation.AttributeValueDTO, len(attrs))
		var g errgroup.Group
		g.SetLimit(runtime.GOMAXPROCS(0))
		for i, attr := range attrs {
			g.Go(func() error {
				values[i].Name = attr
				v, err := srv.GetAttribute(ctx, name, attr)
				if err != nil {
					values[i].Error = err.Error()
					return nil
				}
				values[i].Value = v
				return nil
			})
		}
		_ = g.Wait()

		return formatter(cmd).FormatAttributes(values)
	})
}

var setCmd = &cobra.Command{
	Use:   "set <name> <attribute> <value>",
	Short: "Write an attribute of an object",
	Long: `Write an attribute of an object. The value is parsed as YAML into the
attribute's type, so 4, true, "text" and [a, b] all work.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := objname.Parse(args[0])
		if err != nil {
			return err
		}
		attr := args[1]

		return withSession(cmd, func(ctx context.Context, srv *server.Server) error {
			d, err := srv.GetDescriptor(ctx, name)
			if err != nil {
				return err
			}
			// Unknown attributes still go to the object so the error is the
			// dispatcher's.
			info, _ := d.Attribute(attr)
			value, err := parseValue(args[2], info.Type)
			if err != nil {
				return err
			}
			if err := srv.SetAttribute(ctx, name, capability.Attribute{Name: attr, Value: value}); err != nil {
				return err
			}
			v, err := srv.GetAttribute(ctx, name, attr)
			if err != nil {
				// Write-only attributes have nothing to echo
				return formatter(cmd).FormatAttributes([]presentation.AttributeValueDTO{{Name: attr, Value: value}})
			}
			return formatter(cmd).FormatAttributes([]presentation.AttributeValueDTO{{Name: attr, Value: v}})
		})
	},
}

var invokeCmd = &cobra.Command{
	Use:   "invoke <name> <operation> [arg...]",
	Short: "Invoke an operation on an object",
	Long: `Invoke an operation on an object. Arguments are parsed as YAML into the
parameter types of the selected overload.

Use --signature to pick an overload by its parameter types. With a signature a
variadic parameter takes a single list argument.

Examples:
  beanserver invoke go.runtime:type=Memory GC
  beanserver invoke go.runtime:type=BuildInfo Setting GOOS
  beanserver invoke app:type=Pool Resize 8 --signature int`,
	Args: cobra.MinimumNArgs(2),
	RunE: runInvoke,
}

func runInvoke(cmd *cobra.Command, args []string) error {
	name, err := objname.Parse(args[0])
	if err != nil {
		return err
	}
	op, raw := args[1], args[2:]

	var signature []string
	if cmd.Flags().Changed("signature") {
		signature = append([]string{}, invokeSignature...)
	}

	return withSession(cmd, func(ctx context.Context, srv *server.Server) error {
		d, err := srv.GetDescriptor(ctx, name)
		if err != nil {
			return err
		}
		// Without a described overload the arguments go through untyped and
		// the dispatcher reports what is wrong.
		types := make([]reflect.Type, len(raw))
		if info, err := selectOperation(d, op, len(raw), signature); err == nil {
			types = argTypes(info, len(raw), signature != nil)
		} else {
			log.Debug(log.CatCLI, "Invoking undescribed operation", "name", name.String(), "reason", err.Error())
		}

		params := make([]any, len(raw))
		for i, r := range raw {
			if params[i], err = parseValue(r, types[i]); err != nil {
				return err
			}
		}

		result, err := srv.Invoke(ctx, name, op, params, signature)
		if err != nil {
			return err
		}
		return formatter(cmd).FormatInvokeResult(presentation.InvokeResultDTO{
			Name:      name.String(),
			Operation: op,
			Result:    result,
		})
	})
}

var describeCmd = &cobra.Command{
	Use:   "describe <name>",
	Short: "Show the attributes, operations and notifications of an object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := objname.Parse(args[0])
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, srv *server.Server) error {
			d, err := srv.GetDescriptor(ctx, name)
			if err != nil {
				return err
			}
			return formatter(cmd).FormatDescriptor(presentation.FromDescriptor(name.String(), d))
		})
	},
}

func init() {
	queryCmd.Flags().StringArrayVarP(&queryWhere, "where", "w", nil, "Filter by attribute value, attr=value (can be repeated)")
	invokeCmd.Flags().StringSliceVarP(&invokeSignature, "signature", "s", nil, "Parameter types of the overload, comma separated (e.g. int,string)")

	rootCmd.AddCommand(domainsCmd, queryCmd, getCmd, setCmd, invokeCmd, describeCmd)
}
