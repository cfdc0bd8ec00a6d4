package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/chaquecarne/pesajes/internal/app"
	"github.com/chaquecarne/pesajes/internal/barcode"
	"github.com/chaquecarne/pesajes/internal/platform/migrations"
	"github.com/chaquecarne/pesajes/internal/register"
	"github.com/chaquecarne/pesajes/internal/weighing"
	"github.com/chaquecarne/pesajes/internal/weighing/export"
)

const dateLayout = "2006-01-02"

func fromFlag() cli.Flag {
	return &cli.StringFlag{Name: "from", Usage: "fecha inicial AAAA-MM-DD"}
}

func toFlag() cli.Flag {
	return &cli.StringFlag{Name: "to", Usage: "fecha final AAAA-MM-DD (incluye el día completo)"}
}

func allFlag() cli.Flag {
	return &cli.BoolFlag{Name: "all", Usage: "incluir inactivos"}
}

func (st *state) decodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "decode",
		Usage:     "decodifica una etiqueta de 13 dígitos sin consultar la base",
		ArgsUsage: "<código>",
		Action: func(c *cli.Context) error {
			scan, err := register.DecodeLabel(c.Args().First())
			if err != nil {
				return err
			}
			fmt.Fprintf(st.out, "producto\t%s\npeso_kg\t%s\n", scan.ProductCode, scan.Weight.StringFixed(barcode.WeightScale))
			return nil
		},
	}
}

func (st *state) encodeCommand() *cli.Command {
	return &cli.Command{
		Name:  "encode",
		Usage: "genera la etiqueta de 13 dígitos para un producto y un peso",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "code", Required: true, Usage: "código de producto de 7 dígitos"},
			&cli.StringFlag{Name: "weight", Required: true, Usage: "peso en kg"},
		},
		Action: func(c *cli.Context) error {
			weight, err := parseWeight(c.String("weight"))
			if err != nil {
				return err
			}
			label, err := barcode.Encode(c.String("code"), *weight)
			if ue, ok := register.Describe(err); ok {
				return ue
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(st.out, label)
			return nil
		},
	}
}

func (st *state) scanCommand() *cli.Command {
	return &cli.Command{
		Name:      "scan",
		Usage:     "resuelve una etiqueta o un código de producto",
		ArgsUsage: "<entrada>",
		Action: func(c *cli.Context) error {
			return st.withRuntime(c, func(rt *app.Runtime, out io.Writer) error {
				res, err := rt.Controller.ScanBarcode(c.Context, c.Args().First())
				if err != nil {
					return err
				}
				tw := newTable(out)
				fmt.Fprintf(tw, "producto\t%s\t%s\n", res.ProductCode, res.Product.Name)
				if res.Weight != nil {
					fmt.Fprintf(tw, "peso_kg\t%s\t\n", res.Weight.StringFixed(barcode.WeightScale))
				}
				if res.Product.PricePerKg.Valid {
					fmt.Fprintf(tw, "precio_kg\t%s\t\n", res.Product.PricePerKg.Decimal.StringFixed(2))
				}
				return tw.Flush()
			})
		},
	}
}

func (st *state) productCommand() *cli.Command {
	return &cli.Command{
		Name:  "product",
		Usage: "administra productos",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Flags: []cli.Flag{allFlag()},
				Action: func(c *cli.Context) error {
					return st.withRuntime(c, func(rt *app.Runtime, out io.Writer) error {
						list, err := rt.Controller.ListProducts(c.Context, c.Bool("all"))
						if err != nil {
							return err
						}
						tw := newTable(out)
						fmt.Fprintln(tw, "CÓDIGO\tNOMBRE\tPRECIO/KG\tACTIVO")
						for _, p := range list {
							fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", p.Code, p.Name, nullFixed(p.PricePerKg), p.Active)
						}
						return tw.Flush()
					})
				},
			},
			{
				Name:      "show",
				ArgsUsage: "<código>",
				Action: func(c *cli.Context) error {
					return st.withRuntime(c, func(rt *app.Runtime, out io.Writer) error {
						p, err := rt.Controller.LookupProduct(c.Context, c.Args().First())
						if err != nil {
							return err
						}
						fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", p.Code, p.Name, nullFixed(p.PricePerKg), p.Description)
						return nil
					})
				},
			},
			{
				Name: "add",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "code", Required: true},
					&cli.StringFlag{Name: "name", Required: true},
					&cli.StringFlag{Name: "description"},
					&cli.StringFlag{Name: "price", Usage: "precio por kg"},
				},
				Action: func(c *cli.Context) error {
					p := weighing.Product{Code: c.String("code"), Name: c.String("name"), Description: c.String("description")}
					if raw := c.String("price"); raw != "" {
						price, err := decimal.NewFromString(raw)
						if err != nil {
							return fmt.Errorf("precio inválido: %q", raw)
						}
						p.PricePerKg = decimal.NewNullDecimal(price)
					}
					return st.withRuntime(c, func(rt *app.Runtime, out io.Writer) error {
						created, err := rt.Controller.CreateProduct(c.Context, p)
						if err != nil {
							return err
						}
						fmt.Fprintf(out, "producto %s creado\n", created.Code)
						return nil
					})
				},
			},
			{
				Name:      "update",
				ArgsUsage: "<código>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name"},
					&cli.StringFlag{Name: "description"},
					&cli.StringFlag{Name: "price"},
				},
				Action: func(c *cli.Context) error {
					var upd weighing.ProductUpdate
					if c.IsSet("name") {
						upd.Name = stringPtr(c.String("name"))
					}
					if c.IsSet("description") {
						upd.Description = stringPtr(c.String("description"))
					}
					if c.IsSet("price") {
						price, err := decimal.NewFromString(c.String("price"))
						if err != nil {
							return fmt.Errorf("precio inválido: %q", c.String("price"))
						}
						upd.PricePerKg = &price
					}
					return st.withRuntime(c, func(rt *app.Runtime, out io.Writer) error {
						if err := rt.Controller.UpdateProduct(c.Context, c.Args().First(), upd); err != nil {
							return err
						}
						fmt.Fprintln(out, "producto actualizado")
						return nil
					})
				},
			},
			{
				Name:      "deactivate",
				ArgsUsage: "<código>",
				Action: func(c *cli.Context) error {
					return st.withRuntime(c, func(rt *app.Runtime, out io.Writer) error {
						if err := rt.Controller.DeactivateProduct(c.Context, c.Args().First()); err != nil {
							return err
						}
						fmt.Fprintln(out, "producto desactivado")
						return nil
					})
				},
			},
		},
	}
}

func (st *state) sellerCommand() *cli.Command {
	return &cli.Command{
		Name:  "seller",
		Usage: "administra vendedores",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Flags: []cli.Flag{allFlag()},
				Action: func(c *cli.Context) error {
					return st.withRuntime(c, func(rt *app.Runtime, out io.Writer) error {
						list, err := rt.Controller.ListSellers(c.Context, c.Bool("all"))
						if err != nil {
							return err
						}
						tw := newTable(out)
						fmt.Fprintln(tw, "CÓDIGO\tNOMBRE\tDOCUMENTO\tTELÉFONO\tACTIVO")
						for _, s := range list {
							fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", s.Code, s.FullName(), s.Document, s.Phone, s.Active)
						}
						return tw.Flush()
					})
				},
			},
			{
				Name:      "show",
				ArgsUsage: "<código>",
				Action: func(c *cli.Context) error {
					return st.withRuntime(c, func(rt *app.Runtime, out io.Writer) error {
						s, err := rt.Controller.LookupSeller(c.Context, c.Args().First())
						if err != nil {
							return err
						}
						fmt.Fprintf(out, "%s\t%s\n", s.Code, s.FullName())
						return nil
					})
				},
			},
			{
				Name: "add",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "code", Required: true},
					&cli.StringFlag{Name: "first-name", Required: true},
					&cli.StringFlag{Name: "last-name"},
					&cli.StringFlag{Name: "document"},
					&cli.StringFlag{Name: "phone"},
				},
				Action: func(c *cli.Context) error {
					s := weighing.Seller{
						Code:      c.String("code"),
						FirstName: c.String("first-name"),
						LastName:  c.String("last-name"),
						Document:  c.String("document"),
						Phone:     c.String("phone"),
					}
					return st.withRuntime(c, func(rt *app.Runtime, out io.Writer) error {
						created, err := rt.Controller.CreateSeller(c.Context, s)
						if err != nil {
							return err
						}
						fmt.Fprintf(out, "vendedor %s creado\n", created.Code)
						return nil
					})
				},
			},
			{
				Name:      "update",
				ArgsUsage: "<código>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "first-name"},
					&cli.StringFlag{Name: "last-name"},
					&cli.StringFlag{Name: "document"},
					&cli.StringFlag{Name: "phone"},
				},
				Action: func(c *cli.Context) error {
					var upd weighing.SellerUpdate
					if c.IsSet("first-name") {
						upd.FirstName = stringPtr(c.String("first-name"))
					}
					if c.IsSet("last-name") {
						upd.LastName = stringPtr(c.String("last-name"))
					}
					if c.IsSet("document") {
						upd.Document = stringPtr(c.String("document"))
					}
					if c.IsSet("phone") {
						upd.Phone = stringPtr(c.String("phone"))
					}
					return st.withRuntime(c, func(rt *app.Runtime, out io.Writer) error {
						if err := rt.Controller.UpdateSeller(c.Context, c.Args().First(), upd); err != nil {
							return err
						}
						fmt.Fprintln(out, "vendedor actualizado")
						return nil
					})
				},
			},
			{
				Name:      "deactivate",
				ArgsUsage: "<código>",
				Action: func(c *cli.Context) error {
					return st.withRuntime(c, func(rt *app.Runtime, out io.Writer) error {
						if err := rt.Controller.DeactivateSeller(c.Context, c.Args().First()); err != nil {
							return err
						}
						fmt.Fprintln(out, "vendedor desactivado")
						return nil
					})
				},
			},
		},
	}
}

func (st *state) weighCommand() *cli.Command {
	return &cli.Command{
		Name:  "weigh",
		Usage: "registra un pesaje",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "entry", Aliases: []string{"e"}, Usage: "etiqueta escaneada o código de producto"},
			&cli.StringFlag{Name: "product", Aliases: []string{"p"}, Usage: "código de producto"},
			&cli.StringFlag{Name: "weight", Aliases: []string{"w"}, Usage: "peso en kg, reemplaza al de la etiqueta"},
			&cli.StringFlag{Name: "seller", Aliases: []string{"s"}, Usage: "código de vendedor"},
			&cli.StringFlag{Name: "notes", Usage: "observaciones"},
		},
		Action: func(c *cli.Context) error {
			in := register.RegisterInput{
				Entry:       c.String("entry"),
				ProductCode: c.String("product"),
				SellerCode:  c.String("seller"),
				Notes:       c.String("notes"),
			}
			if raw := c.String("weight"); raw != "" {
				weight, err := parseWeight(raw)
				if err != nil {
					return err
				}
				in.Weight = weight
			}
			return st.withRuntime(c, func(rt *app.Runtime, out io.Writer) error {
				w, err := rt.Controller.Register(c.Context, in)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "pesaje #%d: %s %s kg, %s", w.ID, w.ProductName, w.WeightKg.StringFixed(barcode.WeightScale), w.SellerName)
				if w.Total.Valid {
					fmt.Fprintf(out, ", total %s", w.Total.Decimal.StringFixed(2))
				}
				fmt.Fprintln(out)
				return nil
			})
		},
	}
}

func (st *state) recentCommand() *cli.Command {
	return &cli.Command{
		Name:  "recent",
		Usage: "lista los últimos pesajes",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Usage: "cantidad, por defecto RECENT_LIMIT"},
			&cli.IntFlag{Name: "offset"},
		},
		Action: func(c *cli.Context) error {
			return st.withRuntime(c, func(rt *app.Runtime, out io.Writer) error {
				rows, err := rt.Controller.Recent(c.Context, c.Int("limit"), c.Int("offset"))
				if err != nil {
					return err
				}
				return st.printWeighIns(out, rows)
			})
		},
	}
}

func (st *state) historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "historial por vendedor o por rango de fechas",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "seller", Usage: "código de vendedor, tiene prioridad sobre las fechas"},
			fromFlag(),
			toFlag(),
			&cli.IntFlag{Name: "limit"},
		},
		Action: func(c *cli.Context) error {
			from, to, err := st.dates(c)
			if err != nil {
				return err
			}
			return st.withRuntime(c, func(rt *app.Runtime, out io.Writer) error {
				rows, err := rt.Controller.History(c.Context, register.HistoryFilter{
					SellerCode: c.String("seller"),
					From:       from,
					To:         to,
					Limit:      c.Int("limit"),
				})
				if err != nil {
					return err
				}
				return st.printWeighIns(out, rows)
			})
		},
	}
}

func (st *state) statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "estadísticas por vendedor",
		Flags: []cli.Flag{fromFlag(), toFlag()},
		Action: func(c *cli.Context) error {
			from, to, err := st.dates(c)
			if err != nil {
				return err
			}
			return st.withRuntime(c, func(rt *app.Runtime, out io.Writer) error {
				stats, err := rt.Controller.Stats(c.Context, from, to)
				if err != nil {
					return err
				}
				tw := newTable(out)
				fmt.Fprintln(tw, "VENDEDOR\tNOMBRE\tPESAJES\tTOTAL KG\tPROMEDIO KG\tTOTAL $")
				for _, s := range stats {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n", s.SellerCode, s.SellerName, s.Count,
						s.TotalWeight.StringFixed(2), s.AvgWeight.StringFixed(2), nullFixed(s.TotalAmount))
				}
				return tw.Flush()
			})
		},
	}
}

func (st *state) exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "exporta pesajes a CSV",
		Flags: []cli.Flag{
			fromFlag(),
			toFlag(),
			&cli.StringFlag{Name: "encoding", Usage: "utf-8 o windows-1252, por defecto EXPORT_ENCODING"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "archivo o directorio destino, - para la salida estándar"},
			&cli.BoolFlag{Name: "queue", Usage: "encolar la exportación para el worker"},
		},
		Action: func(c *cli.Context) error {
			from, to, err := st.dates(c)
			if err != nil {
				return err
			}
			var enc export.Encoding
			if raw := c.String("encoding"); raw != "" {
				if enc, err = export.ParseEncoding(raw); err != nil {
					return err
				}
			}
			if c.Bool("queue") {
				return st.enqueueExport(c, from, to, string(enc))
			}
			return st.withRuntime(c, func(rt *app.Runtime, out io.Writer) error {
				target := c.String("out")
				if target == "-" {
					_, err := rt.Controller.Export(c.Context, out, register.ExportFilter{From: from, To: to, Encoding: enc})
					return err
				}
				target, err := exportPath(target, st.cfg.ExportDir, time.Now(), uuid.New())
				if err != nil {
					return err
				}
				f, err := os.Create(target)
				if err != nil {
					return err
				}
				n, err := rt.Controller.Export(c.Context, f, register.ExportFilter{From: from, To: to, Encoding: enc})
				if closeErr := f.Close(); err == nil {
					err = closeErr
				}
				if err != nil {
					_ = os.Remove(target)
					return err
				}
				fmt.Fprintf(out, "%d pesajes exportados a %s\n", n, target)
				return nil
			})
		},
	}
}

// exportPath resolves --out. Empty means a new file in dir. An existing
// directory, or a path ending in a separator, gets a generated file name.
// Missing directories are created.
func exportPath(out, dir string, now time.Time, id uuid.UUID) (string, error) {
	name := export.FileName(now, id)
	if out == "" {
		if dir == "" {
			dir = "."
		}
		out = dir + string(filepath.Separator)
	}
	if strings.HasSuffix(out, "/") || strings.HasSuffix(out, string(filepath.Separator)) {
		if err := os.MkdirAll(out, 0o755); err != nil {
			return "", fmt.Errorf("preparar directorio de exportación: %w", err)
		}
		return filepath.Join(out, name), nil
	}
	if info, err := os.Stat(out); err == nil && info.IsDir() {
		return filepath.Join(out, name), nil
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", fmt.Errorf("preparar directorio de exportación: %w", err)
	}
	return out, nil
}

func (st *state) migrateCommand() *cli.Command {
	action := func(apply func(driver, dsn string) error, done string) cli.ActionFunc {
		return func(c *cli.Context) error {
			driver, dsn := st.cfg.MigrationTarget()
			if err := apply(driver, dsn); err != nil {
				return err
			}
			fmt.Fprintf(st.out, "%s (%s)\n", done, driver)
			return nil
		}
	}
	return &cli.Command{
		Name:  "migrate",
		Usage: "aplica o revierte el esquema de la base",
		Subcommands: []*cli.Command{
			{Name: "up", Action: action(migrations.Up, "esquema actualizado")},
			{Name: "down", Action: action(migrations.Down, "esquema revertido")},
		},
	}
}

func (st *state) seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "carga los productos y vendedores de ejemplo",
		Action: func(c *cli.Context) error {
			return st.withRuntime(c, func(rt *app.Runtime, out io.Writer) error {
				res, err := weighing.Seed(c.Context, rt.Store)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%d productos y %d vendedores cargados\n", res.Products, res.Sellers)
				return nil
			})
		},
	}
}

func (st *state) printWeighIns(out io.Writer, rows []weighing.WeighIn) error {
	loc, err := st.cfg.Location()
	if err != nil {
		return err
	}
	tw := newTable(out)
	fmt.Fprintln(tw, "ID\tFECHA\tPRODUCTO\tPESO KG\tVENDEDOR\tTOTAL")
	for _, w := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s %s\t%s\t%s %s\t%s\n", w.ID, w.RecordedAt.In(loc).Format(export.DateLayout),
			w.ProductCode, w.ProductName, w.WeightKg.StringFixed(barcode.WeightScale), w.SellerCode, w.SellerName, nullFixed(w.Total))
	}
	return tw.Flush()
}

// dates reads --from and --to as days in the shop time zone.
func (st *state) dates(c *cli.Context) (time.Time, time.Time, error) {
	loc, err := st.cfg.Location()
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	parse := func(name string) (time.Time, error) {
		raw := strings.TrimSpace(c.String(name))
		if raw == "" {
			return time.Time{}, nil
		}
		t, err := time.ParseInLocation(dateLayout, raw, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("fecha inválida en --%s, use AAAA-MM-DD", name)
		}
		return t, nil
	}
	from, err := parse("from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parse("to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

func parseWeight(raw string) (*decimal.Decimal, error) {
	w, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(raw), ",", "."))
	if err != nil {
		return nil, fmt.Errorf("peso inválido: %q", raw)
	}
	return &w, nil
}

func newTable(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
}

func nullFixed(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.StringFixed(2)
}

func stringPtr(s string) *string { return &s }
