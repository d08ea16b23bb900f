package domain

import "slices"

// Category is one of the fixed storefront departments.
type Category string

const (
	CategoryElectronics  Category = "Electronics"
	CategoryCameras      Category = "Cameras"
	CategoryLaptops      Category = "Laptops"
	CategoryAccessories  Category = "Accessories"
	CategoryHeadphones   Category = "Headphones"
	CategoryFood         Category = "Food"
	CategoryBooks        Category = "Books"
	CategoryClothesShoes Category = "Clothes/Shoes"
	CategoryBeautyHealth Category = "Beauty/Health"
	CategorySports       Category = "Sports"
	CategoryOutdoor      Category = "Outdoor"
	CategoryHome         Category = "Home"
)

var categories = []Category{
	CategoryElectronics, CategoryCameras, CategoryLaptops, CategoryAccessories,
	CategoryHeadphones, CategoryFood, CategoryBooks, CategoryClothesShoes,
	CategoryBeautyHealth, CategorySports, CategoryOutdoor, CategoryHome,
}

// Categories returns every valid category in display order.
func Categories() []Category {
	return slices.Clone(categories)
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return slices.Contains(categories, c)
}
