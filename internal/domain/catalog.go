package domain

// initialCatalog is inserted into an empty store on first startup.
var initialCatalog = []struct {
	id, title, author string
	copies            int
}{
	{"b001", "The Great Gatsby", "F. Scott Fitzgerald", 1},
	{"b002", "1984", "George Orwell", 5},
	{"b003", "To Kill a Mockingbird", "Harper Lee", 3},
	{"b004", "Pride and Prejudice", "Jane Austen", 2},
	{"b005", "The Catcher in the Rye", "J.D. Salinger", 4},
	{"b006", "The Hobbit", "J.R.R. Tolkien", 3},
	{"b007", "Lord of the Flies", "William Golding", 2},
	{"b008", "Animal Farm", "George Orwell", 5},
	{"b009", "Brave New World", "Aldous Huxley", 2},
	{"b010", "The Odyssey", "Homer", 3},
}

// InitialCatalog returns fresh copies of the seed books.
func InitialCatalog() []*Book {
	books := make([]*Book, 0, len(initialCatalog))
	for _, b := range initialCatalog {
		books = append(books, NewBook(b.id, b.title, b.author, b.copies))
	}
	return books
}
