package database

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selune-dev/selune/pkg/tools"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "customer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.UpsertCustomer(Customer{
		CustomerID:  "cust_1",
		FirstName:   "Ada",
		LastName:    "Lovelace",
		Email:       "ada@example.com",
		Address:     "12 Analytical Way",
		PhoneNumber: "555-0100",
	}))
	require.NoError(t, store.UpsertProduct(Product{
		ProductID: "prod_1",
		Name:      "Thermal Mug",
		Category:  "kitchen",
		Type:      "mug",
		Brand:     "Selune",
		Company:   "Selune Ltd",
		UnitPrice: 19.5,
		Weight:    0.4,
	}))
	return store
}

func TestGetCustomerRecord(t *testing.T) {
	store := newTestStore(t)

	out := store.GetCustomerRecord(context.Background(), "cust_1")
	var c Customer
	require.NoError(t, json.Unmarshal([]byte(out), &c))
	assert.Equal(t, "Ada", c.FirstName)

	missing := store.GetCustomerRecord(context.Background(), "nobody")
	assert.Equal(t, "No customer found with ID: nobody", missing)
}

func TestUpdateCustomerRecord(t *testing.T) {
	store := newTestStore(t)

	out := store.UpdateCustomerRecord(context.Background(), "cust_1", map[string]string{
		"email": "ada@newmail.example",
	})
	assert.Contains(t, out, `"status":"success"`)

	var c Customer
	require.NoError(t, json.Unmarshal([]byte(store.GetCustomerRecord(context.Background(), "cust_1")), &c))
	assert.Equal(t, "ada@newmail.example", c.Email)
	assert.Equal(t, "Ada", c.FirstName, "untouched fields survive")

	missing := store.UpdateCustomerRecord(context.Background(), "nobody", map[string]string{"email": "x"})
	assert.Contains(t, missing, "Customer record not found")
}

func TestGetProductRecord(t *testing.T) {
	store := newTestStore(t)

	one := store.GetProductRecord(context.Background(), "prod_1")
	var p Product
	require.NoError(t, json.Unmarshal([]byte(one), &p))
	assert.Equal(t, "Thermal Mug", p.Name)

	all := store.GetProductRecord(context.Background(), "")
	var ps []Product
	require.NoError(t, json.Unmarshal([]byte(all), &ps))
	assert.Len(t, ps, 1)

	assert.Equal(t, "No product found with ID: ghost", store.GetProductRecord(context.Background(), "ghost"))
}

func TestCreateAndListPurchases(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	out := store.CreatePurchasesRecord(ctx, "cust_1", map[string]interface{}{
		"product_id": "prod_1",
		"quantity":   float64(2),
	})
	assert.Equal(t, "Purchase record created successfully.", out)

	listed := store.GetPurchasesRecord(ctx, "cust_1")
	var views []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(listed), &views))
	require.Len(t, views, 1)
	assert.Equal(t, float64(2), views[0]["quantity"])
	assert.Equal(t, 39.0, views[0]["total_price"])

	product := views[0]["product"].(map[string]interface{})
	assert.Equal(t, "Thermal Mug", product["name"])
}

func TestCreatePurchaseByProductName(t *testing.T) {
	store := newTestStore(t)

	out := store.CreatePurchasesRecord(context.Background(), "cust_1", map[string]interface{}{
		"product_name": "Thermal",
	})
	assert.Equal(t, "Purchase record created successfully.", out)

	missing := store.CreatePurchasesRecord(context.Background(), "cust_1", map[string]interface{}{
		"product_name": "Unknown Widget",
	})
	assert.Contains(t, missing, "not found. Please check the product name.")
}

func TestCreatePurchaseEdgeCases(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assert.Equal(t, "Missing required field: product_id",
		store.CreatePurchasesRecord(ctx, "cust_1", map[string]interface{}{}))
	assert.Equal(t, "Product with ID ghost not found",
		store.CreatePurchasesRecord(ctx, "cust_1", map[string]interface{}{"product_id": "ghost"}))
	assert.Equal(t, "Customer with ID nobody not found",
		store.CreatePurchasesRecord(ctx, "nobody", map[string]interface{}{"product_id": "prod_1"}))
	assert.Equal(t, "No purchases found for customer: cust_1",
		store.GetPurchasesRecord(ctx, "cust_1"))
}

func TestSiteRestrictions(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.AddSiteRestriction("https://selune.example"))
	require.NoError(t, store.AddSiteRestriction("https://selune.example"))
	require.NoError(t, store.AddSiteRestriction("https://docs.selune.example"))

	urls, err := store.SiteRestrictions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://docs.selune.example", "https://selune.example"}, urls)
}

func TestRegisterTools(t *testing.T) {
	store := newTestStore(t)
	registry := tools.NewRegistry()
	require.NoError(t, RegisterTools(registry, store, "cust_1"))

	names := registry.Names()
	assert.Contains(t, names, "get_customer_record")
	assert.Contains(t, names, "create_purchases_record")

	out := registry.Invoke(context.Background(), "get_customer_record", map[string]interface{}{})
	assert.Contains(t, out, `"customer_id":"cust_1"`)
}
