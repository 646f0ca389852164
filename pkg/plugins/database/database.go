// Package database backs the customer, product, and purchase tools with a
// SQLite store. Tool results are text, usually compact JSON, so the agent
// can read them regardless of outcome.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const deliveryLeadDays = 5

// Store wraps the SQLite database holding customer data.
type Store struct {
	db *sql.DB
}

// Customer is the profile shape returned by get_customer_record.
type Customer struct {
	CustomerID  string `json:"customer_id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	Address     string `json:"address"`
	PhoneNumber string `json:"phone_number"`
}

// Product is a catalog entry.
type Product struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Category  string  `json:"category"`
	Type      string  `json:"type"`
	Brand     string  `json:"brand"`
	Company   string  `json:"company"`
	UnitPrice float64 `json:"unit_price"`
	Weight    float64 `json:"weight"`
}

// purchaseView is the customer-facing purchase shape, product details
// embedded and technical fields stripped.
type purchaseView struct {
	Quantity     int         `json:"quantity"`
	PurchaseDate string      `json:"purchase_date"`
	DeliveryDate string      `json:"delivery_date"`
	TotalPrice   float64     `json:"total_price"`
	Product      interface{} `json:"product"`
}

// Open opens (creating if needed) the store at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		customer_id TEXT PRIMARY KEY,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		phone_number TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS products (
		product_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT '',
		brand TEXT NOT NULL DEFAULT '',
		company TEXT NOT NULL DEFAULT '',
		unit_price REAL NOT NULL DEFAULT 0,
		weight REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS purchases (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		purchasing_date TEXT NOT NULL,
		delivered_date TEXT NOT NULL,
		order_number TEXT NOT NULL,
		total_price REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_purchases_customer ON purchases(customer_id);

	CREATE TABLE IF NOT EXISTS site_restrictions (
		url TEXT PRIMARY KEY
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertCustomer inserts or replaces a customer profile.
func (s *Store) UpsertCustomer(c Customer) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO customers (customer_id, first_name, last_name, email, address, phone_number)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.CustomerID, c.FirstName, c.LastName, c.Email, c.Address, c.PhoneNumber,
	)
	return err
}

// UpsertProduct inserts or replaces a catalog entry.
func (s *Store) UpsertProduct(p Product) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO products (product_id, name, category, type, brand, company, unit_price, weight)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ProductID, p.Name, p.Category, p.Type, p.Brand, p.Company, p.UnitPrice, p.Weight,
	)
	return err
}

// AddSiteRestriction records a domain the web search tool restricts to.
func (s *Store) AddSiteRestriction(url string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO site_restrictions (url) VALUES (?)`, url)
	return err
}

// SiteRestrictions lists the configured search domains.
func (s *Store) SiteRestrictions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url FROM site_restrictions ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("failed to list site restrictions: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

func (s *Store) customerExists(ctx context.Context, customerID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(
		ctx, `SELECT COUNT(1) FROM customers WHERE customer_id = ?`, customerID,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetCustomerRecord returns the customer profile as JSON, or an explanatory
// message when the customer does not exist.
func (s *Store) GetCustomerRecord(ctx context.Context, customerID string) string {
	row := s.db.QueryRowContext(ctx,
		`SELECT customer_id, first_name, last_name, email, address, phone_number
		 FROM customers WHERE customer_id = ?`, customerID,
	)

	var c Customer
	err := row.Scan(&c.CustomerID, &c.FirstName, &c.LastName, &c.Email, &c.Address, &c.PhoneNumber)
	if err == sql.ErrNoRows {
		return fmt.Sprintf("No customer found with ID: %s", customerID)
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to get customer record")
		return fmt.Sprintf("Failed to get customer record: %v", err)
	}
	return mustJSON(c)
}

// UpdateCustomerRecord applies the provided non-empty fields to the
// customer profile.
func (s *Store) UpdateCustomerRecord(ctx context.Context, customerID string, fields map[string]string) string {
	exists, err := s.customerExists(ctx, customerID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to update customer record")
		return fmt.Sprintf("Failed to update customer record: %v", err)
	}
	if !exists {
		return mustJSON(map[string]string{"status": "error", "message": "Customer record not found"})
	}

	allowed := []string{"first_name", "last_name", "email", "address", "phone_number"}
	var sets []string
	var args []interface{}
	for _, col := range allowed {
		if v, ok := fields[col]; ok && v != "" {
			sets = append(sets, col+" = ?")
			args = append(args, v)
		}
	}
	if len(sets) > 0 {
		args = append(args, customerID)
		query := "UPDATE customers SET " + strings.Join(sets, ", ") + " WHERE customer_id = ?"
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			log.Error().Err(err).Msg("Failed to update customer record")
			return fmt.Sprintf("Failed to update customer record: %v", err)
		}
	}
	return mustJSON(map[string]string{"status": "success", "message": "Customer record updated successfully"})
}

// GetProductRecord returns one product by id, or the whole catalog when
// productID is empty.
func (s *Store) GetProductRecord(ctx context.Context, productID string) string {
	if productID != "" {
		p, err := s.productByID(ctx, productID)
		if err == sql.ErrNoRows {
			return fmt.Sprintf("No product found with ID: %s", productID)
		}
		if err != nil {
			log.Error().Err(err).Msg("Failed to get product record")
			return fmt.Sprintf("Failed to get product record(s): %v", err)
		}
		return mustJSON(p)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT product_id, name, category, type, brand, company, unit_price, weight FROM products ORDER BY product_id`)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list products")
		return fmt.Sprintf("Failed to get product record(s): %v", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ProductID, &p.Name, &p.Category, &p.Type, &p.Brand, &p.Company, &p.UnitPrice, &p.Weight); err != nil {
			return fmt.Sprintf("Failed to get product record(s): %v", err)
		}
		products = append(products, p)
	}
	if len(products) == 0 {
		return "No products found."
	}
	return mustJSON(products)
}

func (s *Store) productByID(ctx context.Context, productID string) (Product, error) {
	var p Product
	err := s.db.QueryRowContext(ctx,
		`SELECT product_id, name, category, type, brand, company, unit_price, weight
		 FROM products WHERE product_id = ?`, productID,
	).Scan(&p.ProductID, &p.Name, &p.Category, &p.Type, &p.Brand, &p.Company, &p.UnitPrice, &p.Weight)
	return p, err
}

func (s *Store) productByName(ctx context.Context, name string) (Product, error) {
	var p Product
	err := s.db.QueryRowContext(ctx,
		`SELECT product_id, name, category, type, brand, company, unit_price, weight
		 FROM products WHERE name LIKE '%' || ? || '%' LIMIT 1`, name,
	).Scan(&p.ProductID, &p.Name, &p.Category, &p.Type, &p.Brand, &p.Company, &p.UnitPrice, &p.Weight)
	return p, err
}

// GetPurchasesRecord lists the customer's purchases with product details.
func (s *Store) GetPurchasesRecord(ctx context.Context, customerID string) string {
	exists, err := s.customerExists(ctx, customerID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get purchase records")
		return fmt.Sprintf("Failed to get purchase records: %v", err)
	}
	if !exists {
		return fmt.Sprintf("Customer with ID %s not found", customerID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT product_id, quantity, purchasing_date, delivered_date, total_price
		 FROM purchases WHERE customer_id = ? ORDER BY purchasing_date`, customerID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get purchase records")
		return fmt.Sprintf("Failed to get purchase records: %v", err)
	}
	defer rows.Close()

	var views []purchaseView
	for rows.Next() {
		var productID string
		var v purchaseView
		if err := rows.Scan(&productID, &v.Quantity, &v.PurchaseDate, &v.DeliveryDate, &v.TotalPrice); err != nil {
			return fmt.Sprintf("Failed to get purchase records: %v", err)
		}

		if p, err := s.productByID(ctx, productID); err == nil {
			v.Product = map[string]interface{}{
				"name":     p.Name,
				"category": p.Category,
				"type":     p.Type,
				"brand":    p.Brand,
				"company":  p.Company,
				"price":    p.UnitPrice,
				"weight":   p.Weight,
			}
		} else {
			v.Product = map[string]string{"error": "Product details not found"}
		}
		views = append(views, v)
	}
	if len(views) == 0 {
		return fmt.Sprintf("No purchases found for customer: %s", customerID)
	}
	return mustJSON(views)
}

// CreatePurchasesRecord records a purchase for the customer. The product is
// resolved by product_id or, failing that, by product_name.
func (s *Store) CreatePurchasesRecord(ctx context.Context, customerID string, args map[string]interface{}) string {
	exists, err := s.customerExists(ctx, customerID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create purchase record")
		return fmt.Sprintf("Failed to create purchase record: %v", err)
	}
	if !exists {
		return fmt.Sprintf("Customer with ID %s not found", customerID)
	}

	var product Product
	if id, ok := args["product_id"].(string); ok && id != "" {
		product, err = s.productByID(ctx, id)
		if err == sql.ErrNoRows {
			return fmt.Sprintf("Product with ID %s not found", id)
		}
	} else if name, ok := args["product_name"].(string); ok && name != "" {
		product, err = s.productByName(ctx, name)
		if err == sql.ErrNoRows {
			return fmt.Sprintf("Product with name '%s' not found. Please check the product name.", name)
		}
	} else {
		return "Missing required field: product_id"
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to resolve product")
		return fmt.Sprintf("Failed to create purchase record: %v", err)
	}

	quantity := 1
	if q, ok := args["quantity"].(float64); ok && q > 0 {
		quantity = int(q)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO purchases (id, customer_id, product_id, quantity, purchasing_date, delivered_date, order_number, total_price)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		customerID,
		product.ProductID,
		quantity,
		now.Format(time.RFC3339),
		now.AddDate(0, 0, deliveryLeadDays).Format(time.RFC3339),
		strings.ReplaceAll(uuid.NewString(), "-", ""),
		product.UnitPrice*float64(quantity),
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create purchase record")
		return fmt.Sprintf("Failed to create purchase record: %v", err)
	}
	return "Purchase record created successfully."
}

func mustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("Failed to encode result: %v", err)
	}
	return string(data)
}
